package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider answers "given a reference time, what is the base→target rate".
type Provider interface {
	Rate(ctx context.Context, base, target string, reference time.Time) (decimal.Decimal, error)
}
