package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// Show prints the most recently delivered alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show notifications")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tOwner\tFuel\tCondition\tThreshold\tObserved")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.FiredAt.UTC().Format(time.RFC3339),
			sanitizeInline(rec.Owner),
			rec.Fuel,
			rec.Condition,
			rec.Threshold.StringFixed(2),
			rec.Observed.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	v = strings.ReplaceAll(v, "\t", " ")
	return strings.ReplaceAll(v, "\n", " ")
}
