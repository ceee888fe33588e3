package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

// memBlob is a throwaway in-memory BlobStore for handler tests.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[objectName] = data
	m.mu.Unlock()
	return nil
}

func (m *memBlob) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	return "https://blob.test/" + objectName, nil
}

func (m *memBlob) DeleteFile(ctx context.Context, objectName string) error {
	m.mu.Lock()
	delete(m.objects, objectName)
	m.mu.Unlock()
	return nil
}

// stubProcessor is a programmable Processor for handler tests.
type stubProcessor struct {
	mu         sync.Mutex
	extractErr error
	analyzeErr error
}

func (s *stubProcessor) Extract(ctx context.Context, docURL, docName string) (*model.ExtractionResult, error) {
	s.mu.Lock()
	err := s.extractErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.ExtractionResult{
		DocumentName: docName,
		Status:       "done",
		Terms:        []string{"net 30"},
		Products:     []string{"widget"},
	}, nil
}

func (s *stubProcessor) Analyze(ctx context.Context, extraction *model.ExtractionResult, dataURL string) (*model.AnalysisResult, error) {
	s.mu.Lock()
	err := s.analyzeErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.AnalysisResult{Summary: "ok", MarkdownReport: "# Report"}, nil
}

// apiEnv wires the full handler stack behind a router that authenticates via
// the X-Test-User header instead of JWTs.
type apiEnv struct {
	router    *gin.Engine
	perms     *service.PermissionStore
	uploads   *service.UploadRegistry
	analyses  *service.AnalysisService
	processor *stubProcessor
}

func newAPIEnv() *apiEnv {
	perms := service.NewPermissionStore()
	perms.SeedDefaults()

	blob := newMemBlob()
	uploads := service.NewUploadRegistry(blob, perms, &config.UploadsConfig{
		MaxContractBytes: 1 << 20,
		MaxDataBytes:     1 << 20,
	}, nil)

	processor := &stubProcessor{}
	gate := service.NewSharingGate(perms)
	analyses := service.NewAnalysisService(uploads, processor, perms, gate, nil, nil)

	uploadHandler := NewUploadHandler(uploads)
	analysisHandler := NewAnalysisHandler(analyses)
	shareHandler := NewShareHandler(analyses)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
		c.Next()
	})

	router.POST("/api/uploads", uploadHandler.Create)
	router.GET("/api/uploads", uploadHandler.List)
	router.DELETE("/api/uploads/:id", uploadHandler.Delete)
	router.POST("/api/analyses", analysisHandler.Start)
	router.GET("/api/analyses", analysisHandler.List)
	router.GET("/api/analyses/:id", analysisHandler.Get)
	router.GET("/api/analyses/:id/contract", analysisHandler.GetContract)
	router.POST("/api/analyses/:id/analyze", analysisHandler.Analyze)
	router.POST("/api/analyses/:id/reprocess", analysisHandler.Reprocess)
	router.DELETE("/api/analyses/:id", analysisHandler.Delete)
	router.POST("/api/analyses/:id/share", shareHandler.Grant)
	router.DELETE("/api/analyses/:id/share/:userId", shareHandler.Revoke)
	router.GET("/api/analyses/:id/shared-users", shareHandler.List)

	return &apiEnv{
		router:    router,
		perms:     perms,
		uploads:   uploads,
		analyses:  analyses,
		processor: processor,
	}
}

func (e *apiEnv) do(method, path, userID string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) doJSON(method, path, userID, body string) *httptest.ResponseRecorder {
	return e.do(method, path, userID, bytes.NewBufferString(body), "application/json")
}

// uploadFile posts a multipart upload and returns the response recorder.
func (e *apiEnv) uploadFile(userID, kind, filename, mimeType, correlationKey string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", mimeType)
	part, _ := mw.CreatePart(header)
	_, _ = part.Write(content)

	_ = mw.WriteField("kind", kind)
	if correlationKey != "" {
		_ = mw.WriteField("correlation_key", correlationKey)
	}
	_ = mw.Close()

	return e.do(http.MethodPost, "/api/uploads", userID, &buf, mw.FormDataContentType())
}
