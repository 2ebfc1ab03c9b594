package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"spotwatcher/internal/storage"
)

// Show prints the latest persisted snapshot per area.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var snapshots []storage.Snapshot
	if opts.Area != "" {
		snap, err := store.GetSnapshot(ctx, opts.Area)
		if err != nil {
			return err
		}
		if snap != nil {
			snapshots = append(snapshots, *snap)
		}
	} else {
		snapshots, err = store.ListSnapshots(ctx)
		if err != nil {
			return err
		}
	}

	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Area\tStored (UTC)\tSource\tToday\tTomorrow\tCurrent\tAvg Today\tLast Valid")

	for _, snap := range snapshots {
		current := "-"
		if snap.CurrentPrice != nil {
			current = formatDecimal(*snap.CurrentPrice, 3)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			snap.Area,
			snap.StoredAt.UTC().Format(time.RFC3339),
			snap.Source,
			len(snap.Today),
			len(snap.Tomorrow),
			current,
			formatDecimal(snap.StatsToday.Average, 3),
			snap.Validity.LastValidInterval.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
