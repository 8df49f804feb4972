package domain

import "context"

// PriceFeed supplies current prices and price-change notifications.
// Subscribers are invoked synchronously by the goroutine that observed the
// change; no ordering between subscribers is guaranteed.
type PriceFeed interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	SubscribePriceChanges(fn func(PriceTick)) (unsubscribe func())
}
