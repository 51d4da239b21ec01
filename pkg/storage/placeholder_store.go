package storage

import (
	"context"
	"io"
)

// PlaceholderPrefix is prepended to keys handed out by PlaceholderStore.
const PlaceholderPrefix = "placeholder-url/"

// PlaceholderStore discards uploads and synthesizes addresses. It backs the
// simulated mode when no bucket credentials are configured.
type PlaceholderStore struct{}

// NewPlaceholderStore returns a placeholder store.
func NewPlaceholderStore() *PlaceholderStore {
	return &PlaceholderStore{}
}

// Put drains the reader so upload failures on the request body still surface.
func (PlaceholderStore) Put(ctx context.Context, _ string, r io.Reader, _ int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, r)
	return err
}

// PublicURL returns a synthesized address for key.
func (PlaceholderStore) PublicURL(key string) string {
	return PlaceholderPrefix + key
}

// Delete is a no-op; nothing was kept.
func (PlaceholderStore) Delete(context.Context, string) error {
	return nil
}
