package domain

import "context"

// MarketPlatform is the external betting-market service. Every call that acts
// on behalf of a user takes that user's API key explicitly; the platform, not
// this service, decides whether the key is allowed to perform the action.
type MarketPlatform interface {
	CreateMarket(ctx context.Context, apiKey string, m NewExternalMarket) (ExternalMarket, error)
	GetMarket(ctx context.Context, id string) (ExternalMarket, error)
	GetMarketBySlug(ctx context.Context, slug string) (ExternalMarket, error)
	Resolve(ctx context.Context, apiKey, id string, res Resolution) error
	PostComment(ctx context.Context, apiKey, id string, body RichText) error
}
