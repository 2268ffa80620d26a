package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lecture-ingest/internal/app"
	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/model"
	"lecture-ingest/internal/transport/http/response"
)

const (
	msgUploaded = "Files uploaded successfully!"
	msgUpdated  = "Lecture material updated successfully"
	msgDeleted  = "Lecture material deleted successfully"
	msgNotFound = "Lecture Material not found"
)

type MaterialService interface {
	List(ctx context.Context) ([]model.LectureMaterial, error)
	Get(ctx context.Context, id uint) (*model.LectureMaterial, error)
	Update(ctx context.Context, id uint, input app.UpdateInput) error
	Delete(ctx context.Context, id uint) (*app.DeleteResult, error)
}

type Ingester interface {
	Ingest(ctx context.Context, batch ingest.Batch) (*ingest.Result, error)
}

type MaterialHandler struct {
	materials      MaterialService
	ingester       Ingester
	maxUploadBytes int64
	logger         *logrus.Logger
}

type UpdateMaterialRequest struct {
	FileName string `json:"file_name" binding:"required,max=255"`
	FileType string `json:"file_type" binding:"required,max=255"`
	// File optionally replaces the stored bytes, base64 encoded.
	File *string `json:"file"`
}

type UploadResponse struct {
	Message   string            `json:"message"`
	RequestID string            `json:"request_id"`
	Files     []ingest.FileEcho `json:"files"`
}

// IngestFailureResponse reports where a batch failed and which records were
// already written.
type IngestFailureResponse struct {
	Detail    string                   `json:"detail"`
	RequestID string                   `json:"request_id"`
	Stage     ingest.Stage             `json:"stage"`
	Modality  ingest.Modality          `json:"modality,omitempty"`
	Files     []ingest.FileEcho        `json:"files"`
	Committed []ingest.CommittedRecord `json:"committed"`
}

func NewMaterialHandler(materials MaterialService, ingester Ingester, maxUploadBytes int64, logger *logrus.Logger) *MaterialHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MaterialHandler{
		materials:      materials,
		ingester:       ingester,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *MaterialHandler) List(c *gin.Context) {
	list, err := h.materials.List(c.Request.Context())
	if err != nil {
		h.internalError(c, "list lecture materials failed", err)
		return
	}
	if list == nil {
		list = []model.LectureMaterial{}
	}
	response.OK(c, list)
}

func (h *MaterialHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	material, err := h.materials.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrMaterialNotFound) {
			response.Error(c, http.StatusNotFound, msgNotFound)
			return
		}
		h.internalError(c, "get lecture material failed", err)
		return
	}
	response.OK(c, material)
}

func (h *MaterialHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		response.Error(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	course := firstValue(form.Value["course"])
	subject := firstValue(form.Value["subject"])
	headers := form.File["files"]
	switch {
	case course == "":
		response.Error(c, http.StatusBadRequest, "course is required")
		return
	case subject == "":
		response.Error(c, http.StatusBadRequest, "subject is required")
		return
	case len(headers) == 0:
		response.Error(c, http.StatusBadRequest, "at least one file is required")
		return
	}

	batch := ingest.Batch{Course: course, Subject: subject, Files: make([]ingest.File, 0, len(headers))}
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			response.Error(c, http.StatusBadRequest, fmt.Sprintf("read file %q failed", fh.Filename))
			return
		}
		batch.Files = append(batch.Files, ingest.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	result, err := h.ingester.Ingest(c.Request.Context(), batch)
	if err != nil {
		h.writeIngestError(c, result, err)
		return
	}
	response.OK(c, UploadResponse{
		Message:   msgUploaded,
		RequestID: result.RequestID,
		Files:     result.Files,
	})
}

func (h *MaterialHandler) writeIngestError(c *gin.Context, result *ingest.Result, err error) {
	if errors.Is(err, ingest.ErrInvalidBatch) {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	var ingestErr *ingest.IngestError
	if !errors.As(err, &ingestErr) {
		h.internalError(c, "ingest upload failed", err)
		return
	}

	status := http.StatusInternalServerError
	switch ingestErr.Stage {
	case ingest.StageProcess, ingest.StageAggregate, ingest.StageIndex:
		status = http.StatusBadGateway
	}
	body := IngestFailureResponse{
		Detail:    ingestErr.Error(),
		RequestID: ingestErr.RequestID,
		Stage:     ingestErr.Stage,
		Modality:  ingestErr.Modality,
		Files:     []ingest.FileEcho{},
		Committed: ingestErr.Committed,
	}
	if result != nil && result.Files != nil {
		body.Files = result.Files
	}
	if body.Committed == nil {
		body.Committed = []ingest.CommittedRecord{}
	}
	c.JSON(status, body)
}

func (h *MaterialHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	input := app.UpdateInput{FileName: req.FileName, FileType: req.FileType}
	if req.File != nil {
		data, err := base64.StdEncoding.DecodeString(*req.File)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "file must be base64 encoded")
			return
		}
		input.Data = data
	}

	if err := h.materials.Update(c.Request.Context(), id, input); err != nil {
		switch {
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, msgNotFound)
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			h.internalError(c, "update lecture material failed", err)
		}
		return
	}
	response.Message(c, msgUpdated)
}

func (h *MaterialHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.materials.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrMaterialNotFound) {
			response.Error(c, http.StatusNotFound, msgNotFound)
			return
		}
		h.internalError(c, "delete lecture material failed", err)
		return
	}
	body := response.MessageBody{Message: msgDeleted}
	if result != nil && result.IndexErr != nil {
		body.IndexError = result.IndexErr.Error()
	}
	response.OK(c, body)
}

func (h *MaterialHandler) internalError(c *gin.Context, msg string, err error) {
	h.logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	_ = c.Error(err)
	response.Error(c, http.StatusInternalServerError, msg)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, "invalid lecture material id")
		return 0, false
	}
	return uint(id), true
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
