package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
)

// fakeBlob is an in-memory BlobStore that counts writes, so tests can
// assert that rejected uploads never reach storage.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	deletes int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	f.puts++
	return nil
}

func (f *fakeBlob) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	return "https://blob.test/" + objectName, nil
}

func (f *fakeBlob) DeleteFile(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	f.deletes++
	return nil
}

func (f *fakeBlob) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// fakeProcessor counts upstream calls and can be programmed to fail, to
// exercise the state machine's idempotency and failure paths.
type fakeProcessor struct {
	mu           sync.Mutex
	extractCalls int
	analyzeCalls int
	extractErr   error
	analyzeErr   error
	block        chan struct{} // when set, Extract blocks until closed
}

func (f *fakeProcessor) Extract(ctx context.Context, docURL, docName string) (*model.ExtractionResult, error) {
	f.mu.Lock()
	f.extractCalls++
	n := f.extractCalls
	err := f.extractErr
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &model.ExtractionResult{
		DocumentName: docName,
		Status:       "done",
		Terms:        []string{fmt.Sprintf("term-%d", n)},
		Products:     []string{"widget"},
	}, nil
}

func (f *fakeProcessor) Analyze(ctx context.Context, extraction *model.ExtractionResult, dataURL string) (*model.AnalysisResult, error) {
	f.mu.Lock()
	f.analyzeCalls++
	err := f.analyzeErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &model.AnalysisResult{
		Summary:        "looks fine",
		MarkdownReport: "# Report",
	}, nil
}

func (f *fakeProcessor) extractCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extractCalls
}

func upstreamUnavailable() error {
	return apperr.Wrap(apperr.KindUpstreamUnavail, "processing service unavailable", fmt.Errorf("status 503"))
}

// testEnv wires the service layer against fakes.
type testEnv struct {
	blob      *fakeBlob
	perms     *PermissionStore
	uploads   *UploadRegistry
	processor *fakeProcessor
	gate      *SharingGate
	analyses  *AnalysisService
}

func newTestEnv() *testEnv {
	blob := newFakeBlob()
	perms := NewPermissionStore()
	perms.SeedDefaults()

	uploads := NewUploadRegistry(blob, perms, &config.UploadsConfig{
		MaxContractBytes: 1 << 20,
		MaxDataBytes:     1 << 20,
	}, nil)

	processor := &fakeProcessor{}
	gate := NewSharingGate(perms)
	analyses := NewAnalysisService(uploads, processor, perms, gate, &config.AnalysisConfig{
		ReclaimAfterMinutes: 10,
	}, nil)

	return &testEnv{
		blob:      blob,
		perms:     perms,
		uploads:   uploads,
		processor: processor,
		gate:      gate,
		analyses:  analyses,
	}
}

// addMember gives userID the default member role.
func (e *testEnv) addMember(userID string) {
	_ = e.perms.AssignRole(userID, "member")
}

// createPair uploads a contract and a data file for ownerID and returns
// the two upload IDs.
func (e *testEnv) createPair(ownerID string) (string, string, error) {
	ctx := context.Background()
	contract, err := e.uploads.Create(ctx, ownerID, model.KindContract,
		bytes.NewReader([]byte("%PDF-1.7")), 8, "contract.pdf", MimePDF, "")
	if err != nil {
		return "", "", err
	}
	data, err := e.uploads.Create(ctx, ownerID, model.KindData,
		bytes.NewReader([]byte("a,b\n1,2")), 7, "data.csv", "text/csv", contract.CorrelationKey)
	if err != nil {
		return "", "", err
	}
	return contract.ID, data.ID, nil
}

// backdateProcessing rewinds a record's UpdatedAt so it looks stale.
func (e *testEnv) backdateProcessing(recordID string, age time.Duration) {
	e.analyses.mu.Lock()
	if r := e.analyses.records[recordID]; r != nil {
		r.Status = model.StatusProcessing
		r.UpdatedAt = time.Now().Add(-age)
	}
	e.analyses.mu.Unlock()
}
