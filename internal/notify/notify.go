// Package notify delivers outbound messages (digests, alerts) to chat
// channels the user has paired.
package notify

import "context"

// Notifier sends a single formatted message to a destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
}
