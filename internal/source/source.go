package source

import (
	"context"
	"time"

	"spotwatcher/internal/pricing"
)

// Adapter fetches raw interval prices for one market. Implementations
// return an error on any failure; sentinel results are not used.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, area string, reference time.Time) (*pricing.RawResult, error)
}
