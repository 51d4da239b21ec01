package store

import (
	"context"

	"foundersforum/pkg/domain"
)

// Store defines persistence operations for registrations.
// Registrations are append-only: nothing here updates or deletes a row.
type Store interface {
	InsertRegistration(ctx context.Context, app domain.Application) (domain.Registration, error)
	// SearchRegistrations returns rows whose name and email both equal the
	// arguments ignoring case, newest first. No match is an empty slice.
	SearchRegistrations(ctx context.Context, name, email string) ([]domain.Registration, error)
	ListRegistrations(ctx context.Context, limit int) ([]domain.Registration, error)
}
