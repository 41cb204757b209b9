package main

import (
	"context"
	"fmt"

	"github.com/titovtima/songsServer/internal/store"
)

// bootstrapCounters makes sure every id counter exists. Existing counters
// keep their value.
func bootstrapCounters(ctx context.Context, dataStore *store.Store) error {
	for _, name := range store.Sequences {
		if err := dataStore.EnsureCounter(ctx, name, 1); err != nil {
			return fmt.Errorf("bootstrap counters: %w", err)
		}
	}
	return nil
}
