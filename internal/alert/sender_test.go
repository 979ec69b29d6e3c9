package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sync-service/internal/config"

	"gopkg.in/gomail.v2"
)

type fakeMailer struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     chan *gomail.Message
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("421 service not available")
	}
	if f.sent != nil {
		f.sent <- m[0]
	}
	return nil
}

func newTestSender(m *fakeMailer, cfg *config.Config) *Sender {
	return &Sender{cfg: cfg, dialer: m, baseDelay: time.Millisecond}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	m := &fakeMailer{failures: 2}
	s := newTestSender(m, &config.Config{SMTPFrom: "ops@example.com", SMTPFromName: "Sync"})

	if err := s.Send(context.Background(), "oncall@example.com", "subject", "<p>body</p>"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if m.calls != 3 {
		t.Errorf("DialAndSend calls = %d, want 3", m.calls)
	}
}

func TestSend_GivesUpAfterThreeAttempts(t *testing.T) {
	m := &fakeMailer{failures: 10}
	s := newTestSender(m, &config.Config{})

	if err := s.Send(context.Background(), "oncall@example.com", "subject", "body"); err == nil {
		t.Fatal("Send() succeeded, want error")
	}
	if m.calls != 3 {
		t.Errorf("DialAndSend calls = %d, want 3", m.calls)
	}
}

func TestSend_Cancelled(t *testing.T) {
	m := &fakeMailer{failures: 10}
	s := &Sender{cfg: &config.Config{}, dialer: m, baseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, "oncall@example.com", "subject", "body")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
}

func TestSyncFailed_QueuesRenderedAlert(t *testing.T) {
	m := &fakeMailer{sent: make(chan *gomail.Message, 1)}
	s := newTestSender(m, &config.Config{SMTPHost: "smtp.example.com", AlertTo: "oncall@example.com"})

	s.SyncFailed(context.Background(), "orders", errors.New("write <timeout>"))

	select {
	case msg := <-m.sent:
		if got := msg.GetHeader("Subject"); len(got) != 1 || !strings.Contains(got[0], "orders") {
			t.Errorf("Subject = %v, want mention of orders", got)
		}
		if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "oncall@example.com" {
			t.Errorf("To = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not sent")
	}
}

func TestSyncFailed_DisabledDoesNotSend(t *testing.T) {
	m := &fakeMailer{}
	s := newTestSender(m, &config.Config{})

	s.SyncFailed(context.Background(), "orders", errors.New("boom"))
	s.BackupFailed(context.Background(), "backup-1", errors.New("boom"))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls != 0 {
		t.Errorf("DialAndSend calls = %d, want 0", m.calls)
	}
}
