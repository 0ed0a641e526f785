package service

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/storage"
)

func newExportServiceForTest(t *testing.T, ttl time.Duration) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", ttl)
	svc := NewExportService(store, signer, ExportConfig{APIPrefix: "/api/v1/", Retention: time.Hour}, zap.NewNop())
	return svc, store
}

func tokenFromURL(t *testing.T, url string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(url, "/api/v1/exports/"), url)
	return strings.TrimPrefix(url, "/api/v1/exports/")
}

func TestExportServiceStoreAndOpen(t *testing.T) {
	svc, _ := newExportServiceForTest(t, time.Hour)

	stored, err := svc.Store("planning semaine.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "planning_semaine.pdf", stored.Filename)
	assert.Equal(t, 8, stored.Size)
	assert.True(t, stored.ExpiresAt.After(time.Now()))

	download, err := svc.Open(tokenFromURL(t, stored.URL))
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(content))
	assert.Equal(t, "planning_semaine.pdf", download.Filename)
	assert.Equal(t, "application/pdf", download.ContentType)
}

func TestExportServiceRejectsTamperedToken(t *testing.T) {
	svc, _ := newExportServiceForTest(t, time.Hour)
	stored, err := svc.Store("planning.csv", "text/csv", []byte("a;b"))
	require.NoError(t, err)

	token := tokenFromURL(t, stored.URL)
	_, err = svc.Open(token + "x")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Open("not-a-token")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceExpiredLink(t *testing.T) {
	svc, _ := newExportServiceForTest(t, time.Millisecond)
	stored, err := svc.Store("planning.csv", "text/csv", []byte("a;b"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.Open(tokenFromURL(t, stored.URL))
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCleanupRemovesOldFiles(t *testing.T) {
	svc, store := newExportServiceForTest(t, time.Hour)
	stored, err := svc.Store("planning.csv", "text/csv", []byte("a;b"))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(stored.ID+"/planning.csv"), old, old))
	require.NoError(t, svc.Cleanup(context.Background()))

	_, err = svc.Open(tokenFromURL(t, stored.URL))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "export", sanitizeFilename(""))
	assert.Equal(t, "a-b_c.pdf", sanitizeFilename("a/b c.pdf"))
	assert.Equal(t, ".-etc-passwd", sanitizeFilename("../etc/passwd"))
	assert.Len(t, sanitizeFilename(strings.Repeat("x", 150)), 100)
}
