package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"foundersforum/pkg/domain"
)

// Notifier is told about every registration that reached the store.
type Notifier interface {
	NotifyRegistered(ctx context.Context, reg domain.Registration) error
}

// Nop discards notifications.
type Nop struct{}

// NotifyRegistered does nothing.
func (Nop) NotifyRegistered(context.Context, domain.Registration) error { return nil }

// ErrUnknownChannel is returned by Channels.Deliver for an unregistered name.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Channels maps a stable channel name ("mail", "amqp") to its notifier, so a
// retried delivery reaches only the channel that failed.
type Channels map[string]Notifier

// Names returns the channel names in sorted order.
func (c Channels) Names() []string {
	names := make([]string, 0, len(c))
	for name, n := range c {
		if n != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Deliver sends reg through the named channel only.
func (c Channels) Deliver(ctx context.Context, name string, reg domain.Registration) error {
	n := c[name]
	if n == nil {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return n.NotifyRegistered(ctx, reg)
}

// NotifyRegistered calls every channel even when an earlier one fails and
// joins their errors.
func (c Channels) NotifyRegistered(ctx context.Context, reg domain.Registration) error {
	var errs []error
	for _, name := range c.Names() {
		if err := c[name].NotifyRegistered(ctx, reg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
