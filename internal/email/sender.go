// Package email holds the outgoing-email collaborators: the announcement
// sender used by forced flushes and the queue used at broadcast time.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/campuskit/broadcast/internal/model"
)

// Recipient is one deliverable email target. Name falls back to the address
// upstream, so both fields are always non-empty.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SendReport summarizes one announcement send across provider chunks.
type SendReport struct {
	Attempted        int
	SuccessfulChunks int
	FailedChunks     int
	Errors           []string
}

// Sender delivers an announcement to a batch of recipients. The returned
// error is non-nil only when the send failed outright, i.e. no chunk was
// accepted by the provider; per-chunk failures are reported in the SendReport.
type Sender interface {
	SendAnnouncementBroadcast(ctx context.Context, recipients []Recipient, title, content string, priority model.Priority) (SendReport, error)
}

// Resend caps recipients per request at 50 including the To address, so
// chunks carry up to 49 BCC entries.
const resendChunkSize = 49

type resendSender struct {
	client *resend.Client
	from   string
	logger *slog.Logger
}

// NewResendSender returns a Sender backed by the Resend API. Recipients are
// BCC'd in chunks so addresses are not exposed to each other.
func NewResendSender(apiKey, from string, logger *slog.Logger) Sender {
	return &resendSender{
		client: resend.NewClient(apiKey),
		from:   from,
		logger: logger.With("layer", "email", "component", "resendSender"),
	}
}

func (s *resendSender) SendAnnouncementBroadcast(ctx context.Context, recipients []Recipient, title, content string, priority model.Priority) (SendReport, error) {
	report := SendReport{Attempted: len(recipients)}
	if len(recipients) == 0 {
		return report, nil
	}

	s.logger.Info("Announcement send called",
		slog.Int("recipients", len(recipients)),
		slog.String("priority", string(priority)))

	var lastErr error
	for start := 0; start < len(recipients); start += resendChunkSize {
		end := start + resendChunkSize
		if end > len(recipients) {
			end = len(recipients)
		}

		params := &resend.SendEmailRequest{
			From:    s.from,
			To:      []string{s.from},
			Bcc:     formatAddresses(recipients[start:end]),
			Subject: title,
			Text:    content,
			Tags:    []resend.Tag{{Name: "priority", Value: string(priority)}},
		}
		if priority == model.PriorityUrgent {
			params.Headers = map[string]string{"X-Priority": "1"}
		}

		sent, err := s.client.Emails.SendWithContext(ctx, params)
		if err != nil {
			report.FailedChunks++
			report.Errors = append(report.Errors, err.Error())
			lastErr = err
			s.logger.Error("Announcement chunk failed",
				slog.Int("from", start),
				slog.Int("size", end-start),
				slog.Any("error", err))
			continue
		}
		report.SuccessfulChunks++
		s.logger.Info("Announcement chunk sent",
			slog.String("email_id", sent.Id),
			slog.Int("size", end-start))
	}

	if report.SuccessfulChunks == 0 {
		return report, fmt.Errorf("announcement send failed: %w", lastErr)
	}
	return report, nil
}

func formatAddresses(recipients []Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.Name != "" && r.Name != r.Email {
			out = append(out, fmt.Sprintf("%s <%s>", r.Name, r.Email))
			continue
		}
		out = append(out, r.Email)
	}
	return out
}

type disabledSender struct {
	logger *slog.Logger
}

// NewDisabledSender returns a Sender that rejects every send. Used when no
// provider API key is configured; forced flushes then settle as failed with
// this error on record.
func NewDisabledSender(logger *slog.Logger) Sender {
	return &disabledSender{logger: logger}
}

func (s *disabledSender) SendAnnouncementBroadcast(_ context.Context, recipients []Recipient, _, _ string, _ model.Priority) (SendReport, error) {
	s.logger.Warn("Announcement send requested but email sender is not configured",
		slog.Int("recipients", len(recipients)))
	return SendReport{Attempted: len(recipients), FailedChunks: 1},
		fmt.Errorf("email sender not configured")
}
