// Package di contains dependency injection tokens for the venues context.
package di

import (
	"github.com/arbitron/arbitrage-engine/business/venues/app"
	"github.com/arbitron/arbitrage-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	QuoteAggregator = di.NewToken[*app.QuoteAggregator]("venues.QuoteAggregator")
)

// Private dependency tokens - internal to venues module
var (
	Adapters = di.NewToken[[]app.VenueAdapter]("venues:adapters")
)

// Helper functions for type-safe access
func GetQuoteAggregator(c di.ServiceRegistry) *app.QuoteAggregator {
	return di.GetToken(c, QuoteAggregator)
}

func GetAdapters(c di.ServiceRegistry) []app.VenueAdapter {
	return di.GetToken(c, Adapters)
}
