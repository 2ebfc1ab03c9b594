package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Check performs one fetch cycle for a single area and prints the result.
// It runs against an empty cache, so the fetch is always attempted.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	if opts.Area == "" {
		return errors.New("--area is required")
	}

	registry, err := a.buildRegistry(nil, nil)
	if err != nil {
		return err
	}

	area, ok := registry.Area(opts.Area)
	if !ok {
		return fmt.Errorf("unknown area %q", opts.Area)
	}

	result := area.Tick(ctx, time.Now())
	if len(result.Today) == 0 && len(result.Tomorrow) == 0 {
		return fmt.Errorf("no data retrieved for area %s (attempted: %v)", opts.Area, result.Attempted)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Area\t%s\n", opts.Area)
	fmt.Fprintf(writer, "Source\t%s\n", result.Source)
	fmt.Fprintf(writer, "Attempted\t%v\n", result.Attempted)
	fmt.Fprintf(writer, "Today intervals\t%d\n", len(result.Today))
	fmt.Fprintf(writer, "Tomorrow intervals\t%d\n", len(result.Tomorrow))
	if result.CurrentPrice != nil {
		fmt.Fprintf(writer, "Current price\t%s\n", formatDecimal(*result.CurrentPrice, 3))
	}
	if result.NextPrice != nil {
		fmt.Fprintf(writer, "Next price\t%s\n", formatDecimal(*result.NextPrice, 3))
	}
	fmt.Fprintf(writer, "Avg today\t%s\n", formatDecimal(result.StatsToday.Average, 3))
	fmt.Fprintf(writer, "Hours remaining\t%.1f\n", result.Validity.HoursRemaining())
	writer.Flush()
	return nil
}
