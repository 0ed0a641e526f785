package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/pkg/jobs"
	"github.com/noah-isme/formation-api/pkg/mailer"
)

type recordingSender struct {
	messages []mailer.Message
	err      error
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func sampleLink() AttendanceLink {
	return AttendanceLink{
		SheetTitle: "Réseaux <avancé>",
		Formation:  "BTS SIO",
		Date:       time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		StartTime:  "09:00",
		EndTime:    "12:00",
		URL:        "https://emargement.example/signature/tok-1",
		ExpiresAt:  time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC),
	}
}

func TestEmailServiceSendsAttendanceLinkInline(t *testing.T) {
	sender := &recordingSender{}
	svc := NewEmailService(sender, nil, nil, nil, zap.NewNop())

	res := svc.SendAttendanceLink(context.Background(), models.Recipient{ID: "u-1", Email: "alice@example.com", FullName: "Alice"}, sampleLink())
	require.True(t, res.Success, res.Error)
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, "alice@example.com", msg.To[0].Email)
	assert.Equal(t, "Émargement : Réseaux <avancé>", msg.Subject)
	assert.Contains(t, msg.Text, "https://emargement.example/signature/tok-1")
	assert.Contains(t, msg.Text, "11/03/2024, 09:00-12:00")
	assert.Contains(t, msg.HTML, "Réseaux &lt;avancé&gt;")
}

func TestEmailServiceSkipsRecipientWithoutAddress(t *testing.T) {
	sender := &recordingSender{}
	svc := NewEmailService(sender, nil, nil, nil, zap.NewNop())

	res := svc.SendAttendanceLink(context.Background(), models.Recipient{ID: "u-1"}, sampleLink())
	assert.False(t, res.Success)
	assert.Empty(t, sender.messages)
}

func TestEmailServiceQueuesAndDelivers(t *testing.T) {
	sender := &recordingSender{}
	queue := &recordingQueue{}
	svc := NewEmailService(sender, queue, nil, nil, zap.NewNop())

	res := svc.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "bob@example.com", Subject: "Rappel", Body: "Ligne 1\nLigne 2"})
	require.True(t, res.Success)
	require.Len(t, queue.jobs, 1)
	assert.Empty(t, sender.messages)
	assert.Equal(t, emailKindNotification, queue.jobs[0].Type)

	require.NoError(t, svc.Deliver(context.Background(), queue.jobs[0]))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "<p>Ligne 1<br>Ligne 2</p>", sender.messages[0].HTML)
}

func TestEmailServiceReportsFailures(t *testing.T) {
	svc := NewEmailService(&recordingSender{}, &recordingQueue{err: errors.New("queue full")}, nil, nil, zap.NewNop())
	res := svc.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "bob@example.com", Subject: "Rappel", Body: "x"})
	assert.False(t, res.Success)
	assert.Equal(t, "failed to queue email", res.Error)

	inline := NewEmailService(&recordingSender{err: errors.New("smtp: 550")}, nil, nil, nil, zap.NewNop())
	res = inline.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "bob@example.com", Subject: "Rappel", Body: "x"})
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.Error, "550"))

	res = inline.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "not-an-email", Subject: "Rappel", Body: "x"})
	assert.False(t, res.Success)

	unconfigured := NewEmailService(nil, nil, nil, nil, zap.NewNop())
	res = unconfigured.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "bob@example.com", Subject: "Rappel", Body: "x"})
	assert.Equal(t, "email delivery is not configured", res.Error)
}

func TestEmailServiceDeliverRejectsForeignPayload(t *testing.T) {
	svc := NewEmailService(&recordingSender{}, nil, nil, nil, zap.NewNop())
	assert.Error(t, svc.Deliver(context.Background(), jobs.Job{Payload: "nope"}))
}

func TestEmailServiceWithRealQueueAndConsoleSender(t *testing.T) {
	svc := NewEmailService(mailer.NewConsole(zap.NewNop()), nil, nil, nil, zap.NewNop())
	done := make(chan error, 1)
	queue := jobs.NewQueue("email-test", func(ctx context.Context, job jobs.Job) error {
		err := svc.Deliver(ctx, job)
		done <- err
		return err
	}, jobs.QueueConfig{Workers: 1, BufferSize: 4, MaxRetries: jobs.NoRetry, Logger: zap.NewNop()})
	queue.Start(context.Background())
	defer queue.Stop(context.Background())
	svc.SetQueue(queue)

	res := svc.SendNotificationEmail(context.Background(), NotificationEmailRequest{To: "bob@example.com", Subject: "Rappel", Body: "x"})
	require.True(t, res.Success)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("email job was not processed")
	}
}
