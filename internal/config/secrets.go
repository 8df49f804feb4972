package config

import (
	"maps"
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// placeholder "***", safe to log. Slices and maps are copied so the result
// cannot be used to mutate cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redactDSN(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Feed.Symbols = slices.Clone(cfg.Feed.Symbols)
	out.Feed.InitialPrices = maps.Clone(cfg.Feed.InitialPrices)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN keeps the host and database of a URL-form DSN visible and masks
// the password. Anything unparsable is masked whole.
func redactDSN(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Host == "" {
		*s = redacted
		return
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	*s = u.String()
}
