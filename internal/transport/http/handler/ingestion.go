package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/transport/http/response"
)

type StatusReader interface {
	Get(ctx context.Context, requestID string) (*ingest.Status, bool, error)
}

type IngestionHandler struct {
	statuses StatusReader
}

func NewIngestionHandler(statuses StatusReader) *IngestionHandler {
	return &IngestionHandler{statuses: statuses}
}

// Status returns the last recorded state of an upload request.
func (h *IngestionHandler) Status(c *gin.Context) {
	status, ok, err := h.statuses.Get(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "read ingestion status failed")
		return
	}
	if !ok {
		response.Error(c, http.StatusNotFound, "Ingestion not found")
		return
	}
	response.OK(c, status)
}
