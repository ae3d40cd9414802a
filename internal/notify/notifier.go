// Package notify is the boundary to the outbound notification system.
// Actual delivery (email, push) lives outside this service.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notifier dispatches user-facing notifications. The reset token passed to
// SendPasswordReset is the plaintext value; implementations must treat it as
// a credential and never persist it.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, resetToken string) error
}

// LogNotifier is the stand-in used when no mail transport is configured.
// It records that a dispatch happened without logging the token.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(ctx context.Context, email, resetToken string) error {
	log.Info().Str("email", email).Msg("password reset dispatch requested (no mail transport configured)")
	return nil
}

var _ Notifier = LogNotifier{}
