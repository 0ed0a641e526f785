package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/jobs"
	"github.com/noah-isme/formation-api/pkg/mailer"
)

const (
	emailKindAttendanceLink = "attendance_link"
	emailKindNotification   = "notification"
)

type emailQueue interface {
	Enqueue(job jobs.Job) error
}

// AttendanceLink is what a participant needs to reach a signature page.
type AttendanceLink struct {
	SheetTitle string    `json:"sheet_title"`
	Formation  string    `json:"formation"`
	Date       time.Time `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NotificationEmailRequest is the payload of POST /emails/notification.
type NotificationEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Name    string `json:"name"`
	Subject string `json:"subject" validate:"required,max=200"`
	Body    string `json:"body" validate:"required"`
}

// EmailResult mirrors the {success, error} reply of the email endpoints.
type EmailResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EmailService formats transactional emails and hands them to the delivery queue.
// Deliveries are attempted once; failures are logged and counted.
type EmailService struct {
	sender    mailer.Sender
	queue     emailQueue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEmailService builds the service. With a nil queue messages are sent inline.
func NewEmailService(sender mailer.Sender, queue emailQueue, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EmailService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailService{sender: sender, queue: queue, metrics: metrics, validator: validate, logger: logger}
}

// SetQueue attaches the delivery queue once it exists; the queue's handler is Deliver.
func (s *EmailService) SetQueue(queue emailQueue) {
	s.queue = queue
}

type emailJob struct {
	Kind    string
	Message mailer.Message
}

// SendAttendanceLink emails a signature link to one participant.
func (s *EmailService) SendAttendanceLink(ctx context.Context, to models.Recipient, link AttendanceLink) EmailResult {
	if strings.TrimSpace(to.Email) == "" {
		return EmailResult{Error: "recipient has no email address"}
	}
	subject := fmt.Sprintf("Émargement : %s", link.SheetTitle)
	when := fmt.Sprintf("%s, %s-%s", link.Date.Format("02/01/2006"), link.StartTime, link.EndTime)
	text := fmt.Sprintf("Bonjour %s,\n\nMerci de signer la feuille d'émargement « %s » (%s).\n%s\n\nCe lien expire le %s.\n",
		to.FullName, link.SheetTitle, when, link.URL, link.ExpiresAt.Format("02/01/2006 15:04"))
	htmlBody := fmt.Sprintf(`<p>Bonjour %s,</p><p>Merci de signer la feuille d'émargement « %s » (%s).</p><p><a href="%s">Signer la feuille</a></p><p>Ce lien expire le %s.</p>`,
		html.EscapeString(to.FullName), html.EscapeString(link.SheetTitle), html.EscapeString(when), html.EscapeString(link.URL), link.ExpiresAt.Format("02/01/2006 15:04"))

	return s.dispatch(ctx, emailKindAttendanceLink, mailer.Message{
		To:      []mailer.Address{{Name: to.FullName, Email: to.Email}},
		Subject: subject,
		Text:    text,
		HTML:    htmlBody,
	})
}

// SendNotificationEmail sends a free-form notification email.
func (s *EmailService) SendNotificationEmail(ctx context.Context, req NotificationEmailRequest) EmailResult {
	if err := s.validator.Struct(req); err != nil {
		return EmailResult{Error: appErrors.Clone(appErrors.ErrValidation, "to, subject and body are required").Message}
	}
	return s.dispatch(ctx, emailKindNotification, mailer.Message{
		To:      []mailer.Address{{Name: req.Name, Email: req.To}},
		Subject: req.Subject,
		Text:    req.Body,
		HTML:    "<p>" + strings.ReplaceAll(html.EscapeString(req.Body), "\n", "<br>") + "</p>",
	})
}

func (s *EmailService) dispatch(ctx context.Context, kind string, msg mailer.Message) EmailResult {
	if s.sender == nil {
		return EmailResult{Error: "email delivery is not configured"}
	}
	if s.queue == nil {
		if err := s.deliver(ctx, kind, msg); err != nil {
			return EmailResult{Error: err.Error()}
		}
		return EmailResult{Success: true}
	}
	if err := s.queue.Enqueue(jobs.Job{Type: kind, Payload: emailJob{Kind: kind, Message: msg}}); err != nil {
		s.logger.Error("failed to enqueue email", zap.String("kind", kind), zap.Error(err))
		s.metrics.RecordEmail(kind, err)
		return EmailResult{Error: "failed to queue email"}
	}
	return EmailResult{Success: true}
}

// Deliver is the queue handler for email jobs.
func (s *EmailService) Deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailJob)
	if !ok {
		return fmt.Errorf("unexpected email payload %T", job.Payload)
	}
	return s.deliver(ctx, payload.Kind, payload.Message)
}

func (s *EmailService) deliver(ctx context.Context, kind string, msg mailer.Message) error {
	err := s.sender.Send(ctx, msg)
	s.metrics.RecordEmail(kind, err)
	if err != nil {
		s.logger.Error("email delivery failed", zap.String("kind", kind), zap.String("subject", msg.Subject), zap.Error(err))
		return err
	}
	s.logger.Debug("email delivered", zap.String("kind", kind), zap.Int("recipients", len(msg.To)))
	return nil
}
