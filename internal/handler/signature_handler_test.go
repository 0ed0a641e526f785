package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

type signaturePageStub struct {
	token, participant string
}

func (s *signaturePageStub) SignaturePage(_ context.Context, token, participant string) (*service.SignaturePage, error) {
	s.token, s.participant = token, participant
	view := models.PageViewOverview
	if participant != "" {
		view = models.PageViewSigning
	}
	return &service.SignaturePage{Validation: models.TokenValidation{IsValid: true}, View: view}, nil
}

type signatureRecorderStub struct {
	token string
	req   service.SignRequest
	err   error
}

func (s *signatureRecorderStub) SignByToken(_ context.Context, token string, req service.SignRequest) (*models.Roster, error) {
	s.token, s.req = token, req
	if s.err != nil {
		return nil, s.err
	}
	return &models.Roster{SheetID: "sheet-1", PresentCount: 1}, nil
}

type exportOpenerStub struct {
	dir string
}

func (s exportOpenerStub) Open(token string) (*service.ExportDownload, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := os.Open(filepath.Join(s.dir, "planning.csv"))
	if err != nil {
		return nil, err
	}
	return &service.ExportDownload{File: file, Filename: "planning.csv", ContentType: "text/csv; charset=utf-8"}, nil
}

func publicRouter(pages *signaturePageStub, recorder *signatureRecorderStub, exports exportOpenerStub) http.Handler {
	h := NewPublicHandler(pages, recorder, exports)
	r := newRouter(nil)
	r.GET("/signature/:token", h.SignaturePage)
	r.POST("/signature/:token/sign", h.Sign)
	r.GET("/exports/:token", h.DownloadExport)
	return r
}

func TestPublicHandlerSignaturePage(t *testing.T) {
	pages := &signaturePageStub{}
	rec := performJSON(publicRouter(pages, &signatureRecorderStub{}, exportOpenerStub{}), http.MethodGet, "/signature/tok-1?participant=student-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1", pages.token)
	assert.Equal(t, "student-1", pages.participant)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"signing"`)
}

func TestPublicHandlerSign(t *testing.T) {
	recorder := &signatureRecorderStub{}
	router := publicRouter(&signaturePageStub{}, recorder, exportOpenerStub{})

	body := map[string]string{"participant_id": "student-1", "participant_type": "student", "signature_data": "data:image/png;base64,AAAA"}
	rec := performJSON(router, http.MethodPost, "/signature/tok-1/sign", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tok-1", recorder.token)
	assert.Equal(t, models.ParticipantStudent, recorder.req.ParticipantType)

	recorder.err = appErrors.ErrTokenInvalid
	rec = performJSON(router, http.MethodPost, "/signature/expired/sign", body)
	assert.Equal(t, http.StatusGone, rec.Code)

	recorder.err = appErrors.ErrAlreadySigned
	rec = performJSON(router, http.MethodPost, "/signature/tok-1/sign", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPublicHandlerDownloadExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "planning.csv"), []byte("Date;Module\n"), 0o644))
	router := publicRouter(&signaturePageStub{}, &signatureRecorderStub{}, exportOpenerStub{dir: dir})

	rec := performJSON(router, http.MethodGet, "/exports/good", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Date;Module\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="planning.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = performJSON(router, http.MethodGet, "/exports/tampered", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
