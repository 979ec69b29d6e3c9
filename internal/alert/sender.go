// internal/alert/sender.go
package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"sync-service/internal/alert/templates"
	"sync-service/internal/config"

	"gopkg.in/gomail.v2"
)

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender mails operators when a sync cycle or a backup fails. Without
// SMTP_HOST and ALERT_TO it only logs.
type Sender struct {
	cfg       *config.Config
	dialer    mailer
	baseDelay time.Duration
}

func NewSender(cfg *config.Config) *Sender {
	return &Sender{
		cfg:       cfg,
		dialer:    gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		baseDelay: time.Second,
	}
}

func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && s.cfg.AlertTo != ""
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("📧 [ALERT] To: %s | Subject: %s", to, subject)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	// Exponential backoff: 1s, 2s, 4s → max 3 attempts
	for attempt := 0; attempt < 3; attempt++ {
		err := s.dialer.DialAndSend(m)
		if err == nil {
			log.Printf("✅ [ALERT] sent to %s (Subject: %s)", to, subject)
			return nil
		}
		if attempt == 2 {
			break
		}
		delay := s.baseDelay * time.Duration(1<<attempt)
		log.Printf("❌ [ATTEMPT %d] Failed to send alert to %s: %v → retrying in %v", attempt+1, to, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("alert send cancelled: %w", ctx.Err())
		}
	}

	log.Printf("💥 [ALERT] All retries exhausted for %s", to)
	return fmt.Errorf("failed to send alert to %s after 3 attempts", to)
}

// SyncFailed queues an alert for a failed sync cycle.
func (s *Sender) SyncFailed(_ context.Context, tableName string, cause error) {
	s.queue(templates.AlertData{
		Subject: fmt.Sprintf("⚠️ Sync failed for %s", tableName),
		Heading: "Sync cycle failed",
		Summary: fmt.Sprintf("The last sync of table %s could not be written. The previous baseline is kept and the next cycle will retry.", tableName),
		Detail:  cause.Error(),
	})
}

// BackupFailed queues an alert for a backup that did not complete.
func (s *Sender) BackupFailed(_ context.Context, name string, cause error) {
	s.queue(templates.AlertData{
		Subject: fmt.Sprintf("⚠️ Backup %s failed", name),
		Heading: "Backup failed",
		Summary: fmt.Sprintf("Backup %s was not completed and is marked failed.", name),
		Detail:  cause.Error(),
	})
}

// queue renders and sends in the background so callers never wait on SMTP.
func (s *Sender) queue(data templates.AlertData) {
	if !s.Enabled() {
		log.Printf("⚠️ [ALERT] %s (email alerts disabled)", data.Subject)
		return
	}
	body, err := templates.RenderAlert(data)
	if err != nil {
		log.Printf("❌ [ALERT] render failed: %v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Send(ctx, s.cfg.AlertTo, data.Subject, body); err != nil {
			log.Printf("⚠️ [ALERT] background alert failed: %v", err)
		}
	}()
}
