package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/repricelab/repricer/internal/model"
)

// MockNotifier records deliveries for tests and can be scripted to
// fail either channel.
type MockNotifier struct {
	mu sync.Mutex

	EmailErr error
	PushErr  error

	Emails []MockEmail
	Pushes []MockPushDelivery
}

// MockEmail records one SendEmail call.
type MockEmail struct {
	To      string
	Subject string
	Body    string
}

// MockPushDelivery records one SendPush call.
type MockPushDelivery struct {
	Endpoint string
	Payload  string
}

func (m *MockNotifier) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = append(m.Emails, MockEmail{To: to, Subject: subject, Body: body})
	return m.EmailErr
}

func (m *MockNotifier) SendPush(_ context.Context, sub model.PushSubscription, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushes = append(m.Pushes, MockPushDelivery{Endpoint: sub.Endpoint, Payload: payload})
	return m.PushErr
}

// LogNotifier writes notifications to the log instead of delivering
// them. The host binary uses it until a real email/push transport is
// wired in by the surrounding application.
type LogNotifier struct {
	Log *zap.Logger
}

func (l *LogNotifier) SendEmail(_ context.Context, to, subject, body string) error {
	l.Log.Info("notification email",
		zap.String("to", to), zap.String("subject", subject), zap.String("body", body))
	return nil
}

func (l *LogNotifier) SendPush(_ context.Context, sub model.PushSubscription, payload string) error {
	l.Log.Info("notification push",
		zap.String("endpoint", sub.Endpoint), zap.String("payload", payload))
	return nil
}
