package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/models"
	"github.com/noah-isme/formation-api/internal/service"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/response"
)

type signaturePageService interface {
	SignaturePage(ctx context.Context, token, selectedParticipant string) (*service.SignaturePage, error)
}

type signatureRecorder interface {
	SignByToken(ctx context.Context, token string, req service.SignRequest) (*models.Roster, error)
}

type exportOpener interface {
	Open(token string) (*service.ExportDownload, error)
}

// PublicHandler serves the unauthenticated signing flow and export downloads.
type PublicHandler struct {
	pages      signaturePageService
	signatures signatureRecorder
	exports    exportOpener
}

// NewPublicHandler constructs the handler.
func NewPublicHandler(pages signaturePageService, signatures signatureRecorder, exports exportOpener) *PublicHandler {
	return &PublicHandler{pages: pages, signatures: signatures, exports: exports}
}

// SignaturePage godoc
// @Summary Signature page state
// @Description Validates the token and returns the page view (invalid, signing or overview) with the roster
// @Tags Signature
// @Produce json
// @Param token path string true "Sheet token"
// @Param participant query string false "Participant selected on the page"
// @Success 200 {object} response.Envelope
// @Router /signature/{token} [get]
func (h *PublicHandler) SignaturePage(c *gin.Context) {
	page, err := h.pages.SignaturePage(c.Request.Context(), c.Param("token"), c.Query("participant"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// Sign godoc
// @Summary Record a signature
// @Description Stores the drawn signature and returns the reloaded roster
// @Tags Signature
// @Accept json
// @Produce json
// @Param token path string true "Sheet token"
// @Param payload body service.SignRequest true "Signature"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /signature/{token}/sign [post]
func (h *PublicHandler) Sign(c *gin.Context) {
	var req service.SignRequest
	if !bindJSON(c, &req, "invalid signature payload") {
		return
	}
	roster, err := h.signatures.SignByToken(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, roster)
}

// DownloadExport godoc
// @Summary Download a rendered export
// @Tags Exports
// @Produce application/pdf
// @Produce text/csv
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *PublicHandler) DownloadExport(c *gin.Context) {
	download, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}
