package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/realtime"
)

type memoryNotificationRepo struct {
	rows     []models.Notification
	batches  int
	cutoff   time.Time
	purgeCnt int64
}

func (r *memoryNotificationRepo) BulkInsert(ctx context.Context, notifications []models.Notification) error {
	r.batches++
	for i := range notifications {
		notifications[i].ID = "n-" + notifications[i].UserID
		if notifications[i].Type == "" {
			notifications[i].Type = models.NotificationInfo
		}
	}
	r.rows = append(r.rows, notifications...)
	return nil
}

func (r *memoryNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, n := range r.rows {
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (r *memoryNotificationRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, n := range r.rows {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *memoryNotificationRepo) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	for i := range r.rows {
		if r.rows[i].ID == id && r.rows[i].UserID == userID {
			r.rows[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	var n int64
	for i := range r.rows {
		if r.rows[i].UserID == userID && !r.rows[i].IsRead {
			r.rows[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *memoryNotificationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return r.purgeCnt, nil
}

type recordingNotificationEmailer struct {
	sent []NotificationEmailRequest
}

func (e *recordingNotificationEmailer) SendNotificationEmail(ctx context.Context, req NotificationEmailRequest) EmailResult {
	e.sent = append(e.sent, req)
	return EmailResult{Success: true}
}

func newNotificationFixture() (*NotificationService, *memoryNotificationRepo, *realtime.Memory, *recordingNotificationEmailer) {
	repo := &memoryNotificationRepo{}
	formations := &stubFormationRepo{members: map[string][]models.Recipient{
		"f-1": {
			{ID: "u-1", Email: "alice@example.com", FullName: "Alice"},
			{ID: "u-2", FullName: "Bob"},
		},
	}}
	users := &stubRecipientDirectory{
		recipients: map[string]models.Recipient{"u-1": {ID: "u-1", Email: "alice@example.com"}, "u-3": {ID: "u-3"}},
		byRole:     map[models.UserRole][]models.Recipient{models.RoleInstructor: {{ID: "i-1", Email: "carla@example.com"}}},
	}
	broker := realtime.NewMemory()
	emailer := &recordingNotificationEmailer{}
	svc := NewNotificationService(repo, formations, users, broker, emailer, nil, nil, zap.NewNop(), 30*24*time.Hour)
	return svc, repo, broker, emailer
}

func TestNotificationFanOutToFormation(t *testing.T) {
	svc, repo, broker, emailer := newNotificationFixture()
	events, cancel, err := broker.Subscribe(context.Background(), realtime.UserChannel("u-1"))
	require.NoError(t, err)
	defer cancel()

	result, err := svc.FanOut(context.Background(), adminAuth, FanOutRequest{
		Target:      FanOutFormation,
		FormationID: "f-1",
		Title:       "Salle modifiée",
		Message:     "Le cours a lieu en B202.",
		Type:        models.NotificationSchedule,
		Metadata:    json.RawMessage(`{"room":"B202"}`),
		SendEmail:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, 1, result.Emailed)
	assert.Equal(t, 1, repo.batches)
	require.Len(t, repo.rows, 2)
	assert.Equal(t, "u-2", repo.rows[1].UserID)
	assert.Equal(t, models.NotificationSchedule, repo.rows[1].Type)

	require.Len(t, emailer.sent, 1)
	assert.Equal(t, "alice@example.com", emailer.sent[0].To)

	select {
	case evt := <-events:
		assert.Equal(t, EventNotification, evt.Type)
		var n models.Notification
		require.NoError(t, json.Unmarshal(evt.Payload, &n))
		assert.Equal(t, "Salle modifiée", n.Title)
		assert.Equal(t, "n-u-1", n.ID)
	case <-time.After(time.Second):
		t.Fatal("no realtime event published")
	}
}

func TestNotificationFanOutTargets(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()

	result, err := svc.FanOut(context.Background(), adminAuth, FanOutRequest{Target: FanOutInstructors, Title: "Réunion", Message: "Jeudi 14h"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recipients)
	assert.Equal(t, "i-1", repo.rows[0].UserID)

	result, err = svc.FanOut(context.Background(), adminAuth, FanOutRequest{Target: FanOutUsers, UserIDs: []string{"u-3", "u-3", " ", "u-1"}, Title: "Info", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
}

func TestNotificationFanOutValidation(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()

	_, err := svc.FanOut(context.Background(), models.AuthContext{UserID: "u-1", Role: models.RoleStudent}, FanOutRequest{Target: FanOutUsers, UserIDs: []string{"u-1"}, Title: "x", Message: "y"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.FanOut(context.Background(), adminAuth, FanOutRequest{Target: FanOutFormation, Title: "x", Message: "y"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.FanOut(context.Background(), adminAuth, FanOutRequest{Target: FanOutUsers, UserIDs: []string{"u-1"}, Title: "x", Message: "y", Metadata: json.RawMessage(`{broken`)})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.rows)
}

func TestNotificationReadFlow(t *testing.T) {
	svc, _, _, _ := newNotificationFixture()
	require.NoError(t, svc.NotifyFormation(context.Background(), "f-1", models.Notification{Title: "Nouveau créneau", Message: "x"}))

	alice := models.AuthContext{UserID: "u-1", Role: models.RoleStudent}
	count, err := svc.UnreadCount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	items, pagination, err := svc.List(context.Background(), alice, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 20, pagination.PageSize)

	require.NoError(t, svc.MarkRead(context.Background(), alice, items[0].ID))
	err = svc.MarkRead(context.Background(), alice, "n-u-2")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	bob := models.AuthContext{UserID: "u-2"}
	updated, err := svc.MarkAllRead(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	items, _, err = svc.List(context.Background(), alice, true, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNotificationPurgeUsesRetention(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	repo.purgeCnt = 3

	before := time.Now().UTC()
	require.NoError(t, svc.Purge(context.Background()))
	assert.WithinDuration(t, before.Add(-30*24*time.Hour), repo.cutoff, time.Minute)
}

func TestNotificationSubscribeWithoutBroker(t *testing.T) {
	svc := NewNotificationService(&memoryNotificationRepo{}, nil, nil, nil, nil, nil, nil, nil, 0)
	_, _, err := svc.Subscribe(context.Background(), adminAuth)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}
