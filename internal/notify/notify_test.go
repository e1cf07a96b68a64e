package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/repricelab/repricer/internal/model"
	"github.com/repricelab/repricer/internal/repo"
)

func newDispatchFixture() (*repo.Memory, *MockNotifier, *Dispatcher) {
	mem := repo.NewMemory()
	notifier := &MockNotifier{}
	return mem, notifier, NewDispatcher(mem, notifier, zap.NewNop())
}

func TestFlushDeliversEmailAndPush(t *testing.T) {
	mem, notifier, d := newDispatchFixture()
	mem.AddUser(model.User{ID: 1, Email: "seller@example.test"})
	mem.AddPushSubscription(model.PushSubscription{ID: 1, UserID: 1, Endpoint: "https://push.example/a"})
	mem.AddPushSubscription(model.PushSubscription{ID: 2, UserID: 1, Endpoint: "https://push.example/b"})
	id := mem.AddNotification(model.Notification{
		UserID:      1,
		Type:        model.NotifyBuyBoxGained,
		PayloadJSON: `{"asin":"B000000001"}`,
	})

	d.Flush(context.Background())

	if len(notifier.Emails) != 1 {
		t.Fatalf("emails = %d, want 1", len(notifier.Emails))
	}
	email := notifier.Emails[0]
	if email.To != "seller@example.test" {
		t.Errorf("email to = %q", email.To)
	}
	if !strings.Contains(email.Subject, model.NotifyBuyBoxGained) {
		t.Errorf("subject %q does not name the event type", email.Subject)
	}
	if len(notifier.Pushes) != 2 {
		t.Errorf("pushes = %d, want one per subscription", len(notifier.Pushes))
	}
	for _, n := range mem.Notifications() {
		if n.ID == id && !n.Sent {
			t.Error("notification not marked sent after delivery")
		}
	}
}

func TestFlushMarksSentEvenWhenDeliveryFails(t *testing.T) {
	mem, notifier, d := newDispatchFixture()
	mem.AddUser(model.User{ID: 1, Email: "seller@example.test"})
	mem.AddPushSubscription(model.PushSubscription{ID: 1, UserID: 1, Endpoint: "https://push.example/a"})
	mem.AddNotification(model.Notification{UserID: 1, Type: model.NotifyPriceChanged})
	notifier.EmailErr = errors.New("smtp unreachable")
	notifier.PushErr = errors.New("endpoint gone")

	d.Flush(context.Background())

	for _, n := range mem.Notifications() {
		if !n.Sent {
			t.Error("failed delivery must still mark the notification sent")
		}
	}
}

func TestFlushDoesNotRedeliver(t *testing.T) {
	mem, notifier, d := newDispatchFixture()
	mem.AddUser(model.User{ID: 1, Email: "seller@example.test"})
	mem.AddNotification(model.Notification{UserID: 1, Type: model.NotifyBuyBoxLost})

	d.Flush(context.Background())
	d.Flush(context.Background())

	if len(notifier.Emails) != 1 {
		t.Errorf("emails = %d after two flushes, want 1", len(notifier.Emails))
	}
}

func TestFlushSkipsEmailForUserWithoutAddress(t *testing.T) {
	mem, notifier, d := newDispatchFixture()
	mem.AddUser(model.User{ID: 1})
	mem.AddPushSubscription(model.PushSubscription{ID: 1, UserID: 1, Endpoint: "https://push.example/a"})
	mem.AddNotification(model.Notification{UserID: 1, Type: model.NotifyPriceChanged})

	d.Flush(context.Background())

	if len(notifier.Emails) != 0 {
		t.Errorf("emails = %d for user without address, want 0", len(notifier.Emails))
	}
	if len(notifier.Pushes) != 1 {
		t.Errorf("pushes = %d, want 1", len(notifier.Pushes))
	}
}
