package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/form-forge/internal/config"
	"github.com/yourusername/form-forge/internal/form"
	"github.com/yourusername/form-forge/internal/jobs"
	"github.com/yourusername/form-forge/internal/storage"
)

type testEnv struct {
	svc       *form.Service
	lifecycle *jobs.Lifecycle
	layout    storage.Layout
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:     dir,
		MaxFileSize: 1 << 20,
	}
	layout := storage.NewLayout(dir)
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("failed to create dirs: %v", err)
	}

	return &testEnv{
		svc:       form.NewService(cfg, layout, nil),
		lifecycle: jobs.NewLifecycle(jobs.NewMemoryStore(), nil),
		layout:    layout,
	}
}

// lifecycleSubmitter はディスパッチを省いた提出実装です。
// ハンドラーのテストではワーカー起動を伴わないこちらを使います。
type lifecycleSubmitter struct {
	lifecycle *jobs.Lifecycle
}

func (s *lifecycleSubmitter) Submit(ctx context.Context, jobID string, cfg form.PreparationConfig) error {
	return s.lifecycle.Submit(ctx, jobID, cfg)
}

func multipartBody(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v body=%s", err, rec.Body.String())
	}
	return payload["code"]
}

func TestUploadHandlerInvalidFormat(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("plain text, not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/upload", uploadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if code := decodeErrorCode(t, rec); code != form.CodeInvalidFormat {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestUploadHandlerLimitExceeded(t *testing.T) {
	env := newTestEnv(t)

	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("a"), 2<<20)...)
	body, contentType := multipartBody(t, "file", "big.pdf", big)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/upload", uploadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != form.CodeLimitExceeded {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestUploadHandlerMissingFile(t *testing.T) {
	env := newTestEnv(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("note", "no file here"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/upload", uploadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDetectHandlerSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.lifecycle.CreateDocument(ctx, "doc-1", "report.pdf"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	payload := `{"documentId":"doc-1","config":{"model":"small","sensitivity":3,"use_signature_fields":false,"keep_existing_fields":false}}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/detect", detectHandler(&lifecycleSubmitter{lifecycle: env.lifecycle}))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var view jobs.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if view.Status != jobs.StatusEnqueued || view.QueueTime != 0 || view.RunTime != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestDetectHandlerUnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"documentId":"missing","config":{"model":"small","sensitivity":3}}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/detect", detectHandler(&lifecycleSubmitter{lifecycle: env.lifecycle}))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != form.CodeJobNotFound {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestDetectHandlerInvalidSensitivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.lifecycle.CreateDocument(ctx, "doc-1", "report.pdf"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	payload := `{"documentId":"doc-1","config":{"model":"small","sensitivity":7}}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/detect", detectHandler(&lifecycleSubmitter{lifecycle: env.lifecycle}))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != form.CodeInvalidConfig {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestPollHandlerUnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/poll?documentId=missing", nil)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.GET("/api/poll", pollHandler(env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var view jobs.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if view.Status != jobs.StatusEnqueued || view.QueueTime != 0 || view.RunTime != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestPollHandlerMissingParam(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/poll", nil)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.GET("/api/poll", pollHandler(env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDownloadHandlerSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.lifecycle.CreateDocument(ctx, "doc-1", "report.PDF"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	cfg := form.PreparationConfig{Model: form.ModelSmall, Sensitivity: 3}
	if err := env.lifecycle.Submit(ctx, "doc-1", cfg); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	pdfData := []byte("%PDF-1.4\nprepared output\n")
	if err := os.WriteFile(env.layout.OutputPath("doc-1"), pdfData, 0o640); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/download?documentId=doc-1", nil)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.GET("/api/download", downloadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if cd == "" || !bytes.Contains([]byte(cd), []byte("report_fillable.pdf")) {
		t.Fatalf("unexpected content-disposition: %s", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfData) {
		t.Fatalf("unexpected response body: %q", rec.Body.Bytes())
	}
}

func TestDownloadHandlerUnknownDocument(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/download?documentId=missing", nil)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.GET("/api/download", downloadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != form.CodeJobNotFound {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestDownloadHandlerResultNotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	origWait := downloadRetryWait
	downloadRetryWait = time.Millisecond
	t.Cleanup(func() { downloadRetryWait = origWait })

	if err := env.lifecycle.CreateDocument(ctx, "doc-1", "report.pdf"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/download?documentId=doc-1", nil)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.GET("/api/download", downloadHandler(env.svc, env.lifecycle))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != form.CodeResultNotFound {
		t.Fatalf("unexpected code: %s", code)
	}
}
