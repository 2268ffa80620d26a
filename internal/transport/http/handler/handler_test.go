package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lecture-ingest/internal/app"
	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/model"
)

type fakeMaterials struct {
	rows     map[uint]model.LectureMaterial
	updated  []app.UpdateInput
	deleted  []uint
	indexErr error
	failWith error
}

func (f *fakeMaterials) List(context.Context) ([]model.LectureMaterial, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []model.LectureMaterial
	for id := uint(1); id <= 10; id++ {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeMaterials) Get(_ context.Context, id uint) (*model.LectureMaterial, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, app.ErrMaterialNotFound
	}
	return &row, nil
}

func (f *fakeMaterials) Update(_ context.Context, id uint, input app.UpdateInput) error {
	if _, ok := f.rows[id]; !ok {
		return app.ErrMaterialNotFound
	}
	f.updated = append(f.updated, input)
	return nil
}

func (f *fakeMaterials) Delete(_ context.Context, id uint) (*app.DeleteResult, error) {
	if _, ok := f.rows[id]; !ok {
		return nil, app.ErrMaterialNotFound
	}
	delete(f.rows, id)
	f.deleted = append(f.deleted, id)
	return &app.DeleteResult{IndexErr: f.indexErr}, nil
}

type fakeIngester struct {
	batches []ingest.Batch
	result  *ingest.Result
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, batch ingest.Batch) (*ingest.Result, error) {
	f.batches = append(f.batches, batch)
	if f.result != nil {
		return f.result, f.err
	}
	echoes := make([]ingest.FileEcho, len(batch.Files))
	for i, file := range batch.Files {
		mod := ingest.Classify(file.Name)
		echoes[i] = ingest.FileEcho{Filename: file.Name, Course: batch.Course, Subject: batch.Subject, MaterialID: uint(i + 1), Modality: mod, Status: ingest.FileStatusAccepted}
	}
	return &ingest.Result{RequestID: "req-1", State: ingest.StateCompleted, Files: echoes}, f.err
}

func seeded() *fakeMaterials {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &fakeMaterials{rows: map[uint]model.LectureMaterial{
		1: {ID: 1, FileName: "intro.pdf", FileType: "application/pdf", UploadedAt: at},
		2: {ID: 2, FileName: "talk.mp3", FileType: "audio/mpeg", UploadedAt: at},
	}}
}

func newRouter(m *fakeMaterials, ing *fakeIngester, maxBytes int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(io.Discard)
	h := NewMaterialHandler(m, ing, maxBytes, l)
	r := gin.New()
	r.GET("/", h.List)
	r.POST("/", h.Upload)
	r.GET("/:id", h.Get)
	r.PUT("/:id", h.Update)
	r.DELETE("/:id", h.Delete)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type part struct {
	name        string
	contentType string
	data        string
}

func multipartRequest(t *testing.T, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		hdr.Set("Content-Type", f.contentType)
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestListMaterials(t *testing.T) {
	w := do(newRouter(seeded(), &fakeIngester{}, 0), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "intro.pdf", list[0]["file_name"])
	assert.Equal(t, "2024-01-02T03:04:05Z", list[0]["uploaded_at"])
}

func TestListMaterialsEmptyIsArray(t *testing.T) {
	w := do(newRouter(&fakeMaterials{}, &fakeIngester{}, 0), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestGetMaterial(t *testing.T) {
	r := newRouter(seeded(), &fakeIngester{}, 0)

	w := do(r, httptest.NewRequest(http.MethodGet, "/2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "talk.mp3", decode(t, w)["file_name"])

	w = do(r, httptest.NewRequest(http.MethodGet, "/99", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Lecture Material not found", decode(t, w)["detail"])

	w = do(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSuccess(t *testing.T) {
	ing := &fakeIngester{}
	r := newRouter(seeded(), ing, 1<<20)

	req := multipartRequest(t, map[string]string{"course": "CS101", "subject": "Intro"},
		part{"lecture.mp3", "audio/mpeg", "ID3"},
		part{"notes.txt", "text/plain", "hello"},
	)
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "Files uploaded successfully!", body["message"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Len(t, body["files"], 2)

	require.Len(t, ing.batches, 1)
	b := ing.batches[0]
	assert.Equal(t, "CS101", b.Course)
	assert.Equal(t, "lecture.mp3", b.Files[0].Name)
	assert.Equal(t, "audio/mpeg", b.Files[0].ContentType)
	assert.Equal(t, []byte("hello"), b.Files[1].Data)
}

func TestUploadMissingFields(t *testing.T) {
	ing := &fakeIngester{}
	r := newRouter(seeded(), ing, 0)

	cases := map[string]*http.Request{
		"course":  multipartRequest(t, map[string]string{"subject": "s"}, part{"a.txt", "text/plain", "x"}),
		"subject": multipartRequest(t, map[string]string{"course": "c"}, part{"a.txt", "text/plain", "x"}),
		"file":    multipartRequest(t, map[string]string{"course": "c", "subject": "s"}),
	}
	for field, req := range cases {
		w := do(r, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, field)
		assert.Contains(t, decode(t, w)["detail"], field)
	}
	assert.Empty(t, ing.batches)

	w := do(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadProcessorFailure(t *testing.T) {
	ing := &fakeIngester{
		result: &ingest.Result{RequestID: "req-9", State: ingest.StateFailed, Files: []ingest.FileEcho{{Filename: "talk.mp3", MaterialID: 5}}},
		err: &ingest.IngestError{
			RequestID: "req-9",
			Stage:     ingest.StageProcess,
			Modality:  ingest.ModalityAudio,
			Files:     []string{"talk.mp3"},
			Committed: []ingest.CommittedRecord{{MaterialID: 5, Filename: "talk.mp3"}},
			Err:       errors.New("decoder crashed"),
		},
	}
	r := newRouter(seeded(), ing, 0)

	w := do(r, multipartRequest(t, map[string]string{"course": "c", "subject": "s"}, part{"talk.mp3", "audio/mpeg", "x"}))
	require.Equal(t, http.StatusBadGateway, w.Code)

	body := decode(t, w)
	assert.Equal(t, "req-9", body["request_id"])
	assert.Equal(t, "process", body["stage"])
	assert.Equal(t, "audio", body["modality"])
	assert.Contains(t, body["detail"], "decoder crashed")
	assert.Len(t, body["committed"], 1)
	assert.Len(t, body["files"], 1)
}

func TestUploadRegisterFailureIsInternal(t *testing.T) {
	ing := &fakeIngester{
		result: &ingest.Result{RequestID: "req-2"},
		err:    &ingest.IngestError{RequestID: "req-2", Stage: ingest.StageRegister, Err: errors.New("db down")},
	}
	w := do(newRouter(seeded(), ing, 0), multipartRequest(t, map[string]string{"course": "c", "subject": "s"}, part{"a.txt", "text/plain", "x"}))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{}, body["committed"])
	assert.Equal(t, []any{}, body["files"])
}

func TestUploadInvalidBatch(t *testing.T) {
	ing := &fakeIngester{err: fmt.Errorf("%w: file 0 has an empty name", ingest.ErrInvalidBatch)}
	w := do(newRouter(seeded(), ing, 0), multipartRequest(t, map[string]string{"course": "c", "subject": "s"}, part{"a.txt", "text/plain", "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateMaterial(t *testing.T) {
	m := seeded()
	r := newRouter(m, &fakeIngester{}, 0)

	req := httptest.NewRequest(http.MethodPut, "/1", strings.NewReader(`{"file_name":"week1.pdf","file_type":"application/pdf","file":"aGVsbG8="}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Lecture material updated successfully", decode(t, w)["message"])
	require.Len(t, m.updated, 1)
	assert.Equal(t, []byte("hello"), m.updated[0].Data)

	req = httptest.NewRequest(http.MethodPut, "/1", strings.NewReader(`{"file_name":"x","file_type":"y"}`))
	w = do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, m.updated[1].Data)

	w = do(r, httptest.NewRequest(http.MethodPut, "/77", strings.NewReader(`{"file_name":"x","file_type":"y"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, httptest.NewRequest(http.MethodPut, "/1", strings.NewReader(`{"file_type":"y"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, httptest.NewRequest(http.MethodPut, "/1", strings.NewReader(`{"file_name":"x","file_type":"y","file":"%%%"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMaterial(t *testing.T) {
	m := seeded()
	r := newRouter(m, &fakeIngester{}, 0)

	w := do(r, httptest.NewRequest(http.MethodDelete, "/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Lecture material deleted successfully", body["message"])
	assert.NotContains(t, body, "index_error")

	w = do(r, httptest.NewRequest(http.MethodDelete, "/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []uint{1}, m.deleted)
}

func TestDeleteMaterialReportsIndexError(t *testing.T) {
	m := seeded()
	m.indexErr = errors.New("index timeout")
	w := do(newRouter(m, &fakeIngester{}, 0), httptest.NewRequest(http.MethodDelete, "/2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "index timeout", decode(t, w)["index_error"])
}

type fakeStatuses map[string]ingest.Status

func (f fakeStatuses) Get(_ context.Context, id string) (*ingest.Status, bool, error) {
	if id == "boom" {
		return nil, false, errors.New("redis down")
	}
	s, ok := f[id]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func TestIngestionStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ingestions/:request_id", NewIngestionHandler(fakeStatuses{
		"abc": {RequestID: "abc", State: ingest.StateIndexed, Files: 2},
	}).Status)

	w := do(r, httptest.NewRequest(http.MethodGet, "/ingestions/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "indexed", decode(t, w)["state"])

	w = do(r, httptest.NewRequest(http.MethodGet, "/ingestions/none", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/ingestions/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewHealthHandler("lecture-ingest", "test", time.Now(), map[string]Check{
		"mysql": func(context.Context) error { return nil },
	})
	sick := NewHealthHandler("lecture-ingest", "test", time.Now(), map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("refused") },
	})
	r := gin.New()
	r.GET("/ok", healthy.Check)
	r.GET("/sick", sick.Check)

	w := do(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/sick", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	deps := decode(t, w)["dependencies"].(map[string]any)
	assert.Equal(t, false, deps["redis"].(map[string]any)["ok"])
	assert.Equal(t, "refused", deps["redis"].(map[string]any)["message"])
}
