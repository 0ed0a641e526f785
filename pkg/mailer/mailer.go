// Package mailer sends transactional email through SendGrid, SMTP or the log.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/pkg/config"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// ErrNoRecipient is returned when a message has no destination address.
var ErrNoRecipient = errors.New("mailer: message has no recipient")

// Address is a display name plus mailbox.
type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Email)
}

// Message is a single outbound email.
type Message struct {
	To      []Address
	Subject string
	Text    string
	HTML    string
}

func (m Message) validate() error {
	for _, to := range m.To {
		if strings.TrimSpace(to.Email) != "" {
			return nil
		}
	}
	return ErrNoRecipient
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the sender selected by cfg.Provider.
func New(cfg config.MailConfig, logger *zap.Logger) (Sender, error) {
	from := Address{Name: cfg.FromName, Email: cfg.FromAddress}
	switch cfg.Provider {
	case config.MailProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, errors.New("mailer: SENDGRID_API_KEY is required")
		}
		return NewSendGrid(cfg.SendGridAPIKey, from), nil
	case config.MailProviderSMTP:
		return NewSMTP(cfg, from), nil
	case config.MailProviderConsole, "":
		return NewConsole(logger), nil
	default:
		return nil, fmt.Errorf("mailer: unknown provider %q", cfg.Provider)
	}
}

// SendGrid posts messages to the SendGrid v3 API.
type SendGrid struct {
	key  string
	from *sgmail.Email
}

// NewSendGrid builds a SendGrid sender.
func NewSendGrid(key string, from Address) *SendGrid {
	return &SendGrid{key: key, from: sgmail.NewEmail(from.Name, from.Email)}
}

func (s *SendGrid) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Email))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return m
}

// Send delivers msg in a single API call.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// SMTP relays messages through a mail server.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	tls      mail.TLSPolicy
	from     Address
}

// NewSMTP builds an SMTP sender.
func NewSMTP(cfg config.MailConfig, from Address) *SMTP {
	policy := mail.TLSMandatory
	if !cfg.SMTPTLS {
		policy = mail.NoTLS
	}
	return &SMTP{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		tls:      policy,
		from:     from,
	}
}

// Send dials the server for each message.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	message := mail.NewMsg()
	if err := message.From(s.from.String()); err != nil {
		return err
	}
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.String())
	}
	if err := message.To(to...); err != nil {
		return err
	}
	message.Subject(msg.Subject)
	if msg.Text != "" {
		message.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	if msg.HTML != "" {
		if msg.Text != "" {
			message.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
		} else {
			message.SetBodyString(mail.TypeTextHTML, msg.HTML)
		}
	}

	opts := []mail.Option{mail.WithPort(s.port), mail.WithTLSPolicy(s.tls)}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, message)
}

// Console logs messages instead of sending them.
type Console struct {
	logger *zap.Logger
}

// NewConsole builds a log-only sender for development.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

// Send writes the message to the log.
func (c *Console) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.Email)
	}
	c.logger.Info("email",
		zap.Strings("to", to),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
