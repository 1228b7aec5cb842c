package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Prune deletes recorded opportunities detected more than olderThan ago.
func (a *App) Prune(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("older-than must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted, err := store.DeleteOpportunitiesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	remaining, err := store.CountOpportunities(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Int64("remaining", remaining).Msg("pruned opportunity log")
	fmt.Fprintf(a.Out, "deleted %d opportunities older than %s, %d remain\n", deleted, cutoff.Format(time.RFC3339), remaining)
	return nil
}
