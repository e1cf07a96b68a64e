// Package notify drains queued notifications after a cycle commits.
// Delivery is best-effort and never blocks or fails the pricing
// cycle.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/repricelab/repricer/internal/model"
	"github.com/repricelab/repricer/internal/repo"
)

// Notifier delivers a single notification over one channel. Both
// methods are best-effort; errors are logged by the dispatcher, not
// propagated.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendPush(ctx context.Context, sub model.PushSubscription, payload string) error
}

// Dispatcher flushes pending notifications through a Notifier.
type Dispatcher struct {
	repo     repo.Repository
	notifier Notifier
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(r repo.Repository, n Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: r, notifier: n, log: log}
}

// Flush delivers every sent=false notification and marks it sent once
// the attempt completes, success or not. A crash between send and
// mark leaves the notification pending, so delivery is at-least-once;
// a failed attempt is not re-queued.
func (d *Dispatcher) Flush(ctx context.Context) {
	pending, err := d.repo.PendingNotifications(ctx)
	if err != nil {
		d.log.Error("listing pending notifications", zap.Error(err))
		return
	}

	for _, n := range pending {
		d.deliver(ctx, n)
		if err := d.repo.MarkNotificationSent(ctx, n.ID); err != nil {
			d.log.Error("marking notification sent",
				zap.Uint("notification_id", n.ID), zap.Error(err))
		}
	}

	if len(pending) > 0 {
		d.log.Info("flushed notifications", zap.Int("count", len(pending)))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n repo.PendingNotification) {
	subject := fmt.Sprintf("[BuyBox] %s", n.Type)
	if n.UserEmail != "" {
		if err := d.notifier.SendEmail(ctx, n.UserEmail, subject, n.PayloadJSON); err != nil {
			d.log.Warn("email delivery failed",
				zap.Uint("notification_id", n.ID),
				zap.String("type", n.Type),
				zap.Error(err))
		}
	}

	subs, err := d.repo.PushSubscriptionsForUser(ctx, n.UserID)
	if err != nil {
		d.log.Warn("listing push subscriptions",
			zap.Uint("user_id", n.UserID), zap.Error(err))
		return
	}
	for _, sub := range subs {
		if err := d.notifier.SendPush(ctx, sub, n.PayloadJSON); err != nil {
			d.log.Warn("push delivery failed",
				zap.Uint("notification_id", n.ID),
				zap.String("endpoint", sub.Endpoint),
				zap.Error(err))
		}
	}
}
