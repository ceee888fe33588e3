package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/logger"
)

// Processor is the external extraction/analysis boundary. ProcessorService
// implements it; tests substitute counting fakes.
type Processor interface {
	Extract(ctx context.Context, docURL, docName string) (*model.ExtractionResult, error)
	Analyze(ctx context.Context, extraction *model.ExtractionResult, dataURL string) (*model.AnalysisResult, error)
}

// AnalysisService owns the analysis record lifecycle. All stage transitions
// for one correlation key serialize: concurrent starts collapse into a
// single upstream call, and a competing forced reprocess or analysis run is
// rejected with Conflict rather than duplicated upstream.
type AnalysisService struct {
	mu      sync.RWMutex
	records map[string]*model.AnalysisRecord // by record ID
	byKey   map[string]string                // correlation key -> record ID

	busyMu sync.Mutex
	busy   map[string]bool // correlation keys with an active transition
	sf     singleflight.Group

	uploads      *UploadRegistry
	processor    Processor
	perms        *PermissionStore
	gate         *SharingGate
	reclaimAfter time.Duration
	maxRecords   int // 0 = unlimited
}

func NewAnalysisService(uploads *UploadRegistry, processor Processor, perms *PermissionStore, gate *SharingGate, cfg *config.AnalysisConfig, storeCfg *config.StoreConfig) *AnalysisService {
	reclaim := 10 * time.Minute
	if cfg != nil && cfg.ReclaimAfterMinutes > 0 {
		reclaim = time.Duration(cfg.ReclaimAfterMinutes) * time.Minute
	}
	maxRecords := 0
	if storeCfg != nil && storeCfg.MaxAnalyses > 0 {
		maxRecords = storeCfg.MaxAnalyses
	}
	return &AnalysisService{
		records:      make(map[string]*model.AnalysisRecord),
		byKey:        make(map[string]string),
		busy:         make(map[string]bool),
		uploads:      uploads,
		processor:    processor,
		perms:        perms,
		gate:         gate,
		reclaimAfter: reclaim,
		maxRecords:   maxRecords,
	}
}

// acquire marks a correlation key as transitioning. Returns false when a
// transition for the key is already active in this process.
func (s *AnalysisService) acquire(key string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[key] {
		return false
	}
	s.busy[key] = true
	return true
}

func (s *AnalysisService) release(key string) {
	s.busyMu.Lock()
	delete(s.busy, key)
	s.busyMu.Unlock()
}

// stale reports whether a processing record has exceeded the reclaim
// window and may be taken over by a new transition attempt.
func (s *AnalysisService) stale(record *model.AnalysisRecord) bool {
	return time.Since(record.UpdatedAt) > s.reclaimAfter
}

// StartJob creates (or returns) the analysis record for an upload pair and
// runs the extraction stage. Calling it again for a pair whose extraction
// already completed returns the existing record without touching the
// upstream service, unless force is set.
func (s *AnalysisService) StartJob(ctx context.Context, requesterID, contractUploadID, dataUploadID string, force bool) (*model.AnalysisRecord, error) {
	contract := s.uploads.Get(contractUploadID)
	data := s.uploads.Get(dataUploadID)
	if contract == nil || data == nil {
		return nil, apperr.NotFound("upload not found")
	}
	if contract.Kind != model.KindContract || data.Kind != model.KindData {
		return nil, apperr.Validation("uploads must be one contract and one data file")
	}
	if contract.CorrelationKey != data.CorrelationKey {
		return nil, apperr.Validation("uploads do not belong to the same pair")
	}

	ownsBoth := contract.OwnerID == requesterID && data.OwnerID == requesterID
	if !ownsBoth && !s.perms.Authorize(requesterID, model.PermAnalysisManage) {
		return nil, apperr.PermissionDenied("not allowed to start a job for this pair")
	}
	if err := s.perms.Require(requesterID, model.PermAnalysisRun); err != nil {
		return nil, err
	}

	key := contract.CorrelationKey

	// Idempotency fast path: completed extraction is never redone
	// implicitly.
	if existing := s.getByKeySnapshot(key); existing != nil && existing.StageAtLeast(model.StageExtracted) && !force {
		return existing, nil
	}

	// Concurrent starts for the same key share one flight and therefore
	// one upstream call. The flight result is already a snapshot.
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.runExtraction(ctx, key, contract, data, force)
	})
	if v == nil {
		return nil, err
	}
	return v.(*model.AnalysisRecord), err
}

// ForceReprocess redoes the extraction stage unconditionally, replacing the
// previous extraction result and discarding any analysis derived from it.
func (s *AnalysisService) ForceReprocess(ctx context.Context, recordID, requesterID string) (*model.AnalysisRecord, error) {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(requesterID, record) {
		return nil, apperr.NotFound("analysis not found")
	}
	if record.OwnerID != requesterID && !s.perms.Authorize(requesterID, model.PermAnalysisRerun) {
		return nil, apperr.PermissionDenied("not allowed to reprocess this analysis")
	}

	contract := s.uploads.Get(record.ContractUploadID)
	data := s.uploads.Get(record.DataUploadID)
	if contract == nil || data == nil {
		return nil, apperr.PreconditionFailed("source uploads no longer exist")
	}

	// A forced redo must not silently alias an in-progress run.
	if !s.acquire(record.CorrelationKey) {
		return nil, apperr.Conflict("a transition is already running for this pair")
	}
	defer s.release(record.CorrelationKey)

	return s.extractInto(ctx, record.CorrelationKey, contract, data, true)
}

// runExtraction is the singleflight body for StartJob.
func (s *AnalysisService) runExtraction(ctx context.Context, key string, contract, data *model.Upload, force bool) (*model.AnalysisRecord, error) {
	if !s.acquire(key) {
		return nil, apperr.Conflict("a transition is already running for this pair")
	}
	defer s.release(key)

	// Re-check under the key lock: a collapsed duplicate may arrive after
	// the first flight finished.
	if existing := s.getByKeySnapshot(key); existing != nil {
		if existing.StageAtLeast(model.StageExtracted) && !force {
			return existing, nil
		}
		if existing.Status == model.StatusProcessing && !s.stale(existing) {
			return nil, apperr.Conflict("a transition is already running for this pair")
		}
	}

	return s.extractInto(ctx, key, contract, data, force)
}

// extractInto performs the extraction transition. Caller must hold the key.
func (s *AnalysisService) extractInto(ctx context.Context, key string, contract, data *model.Upload, force bool) (*model.AnalysisRecord, error) {
	s.mu.Lock()
	record := s.lockedByKey(key)
	if record == nil {
		record = &model.AnalysisRecord{
			ID:               uuid.New().String(),
			CorrelationKey:   key,
			OwnerID:          contract.OwnerID,
			ContractUploadID: contract.ID,
			DataUploadID:     data.ID,
			Stage:            model.StageUnstarted,
			CreatedAt:        time.Now(),
		}
		s.records[record.ID] = record
		s.byKey[key] = record.ID
		s.cleanupIfNeeded()
	}
	record.Status = model.StatusProcessing
	record.UpdatedAt = time.Now()
	s.mu.Unlock()

	docURL, err := s.uploads.PresignedURL(ctx, contract)
	if err != nil {
		return s.failTransition(ctx, record, fmt.Errorf("presign contract: %w", err)),
			apperr.Wrap(apperr.KindUpstreamUnavail, "processing failed, please retry", err)
	}

	extraction, err := s.processor.Extract(ctx, docURL, contract.Filename)
	if err != nil {
		return s.failTransition(ctx, record, err), wrapUpstream(err)
	}

	s.mu.Lock()
	record.Extraction = extraction
	if force {
		// The old analysis was derived from the replaced extraction.
		record.Analysis = nil
	}
	record.Stage = model.StageExtracted
	record.Status = model.StatusCompleted
	record.ErrorMsg = ""
	record.UpdatedAt = time.Now()
	out := record.Clone()
	s.mu.Unlock()

	logger.Info(ctx, "extraction completed",
		"analysis_id", record.ID,
		"correlation_key", key,
		"terms", len(extraction.Terms),
		"products", len(extraction.Products),
	)
	return out, nil
}

// TriggerAnalysis runs the second stage on an extracted record. A failure
// here never discards the extraction result.
func (s *AnalysisService) TriggerAnalysis(ctx context.Context, recordID, requesterID string) (*model.AnalysisRecord, error) {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(requesterID, record) {
		return nil, apperr.NotFound("analysis not found")
	}
	if record.OwnerID != requesterID && !s.perms.Authorize(requesterID, model.PermAnalysisManage) {
		return nil, apperr.PermissionDenied("not allowed to run analysis on this record")
	}
	// Stage is read under the lock; once extracted it never regresses below
	// extracted, so the precondition holds through the acquire below.
	if !s.snapshot(record).StageAtLeast(model.StageExtracted) {
		return nil, apperr.PreconditionFailed("extraction not yet available")
	}

	data := s.uploads.Get(record.DataUploadID)
	if data == nil {
		return nil, apperr.PreconditionFailed("data upload no longer exists")
	}

	if !s.acquire(record.CorrelationKey) {
		return nil, apperr.Conflict("a transition is already running for this pair")
	}
	defer s.release(record.CorrelationKey)

	s.mu.Lock()
	record.Status = model.StatusProcessing
	record.UpdatedAt = time.Now()
	extraction := record.Extraction
	s.mu.Unlock()

	dataURL, err := s.uploads.PresignedURL(ctx, data)
	if err != nil {
		return s.failAnalysis(ctx, record, err),
			apperr.Wrap(apperr.KindUpstreamUnavail, "processing failed, please retry", err)
	}

	result, err := s.processor.Analyze(ctx, extraction, dataURL)
	if err != nil {
		return s.failAnalysis(ctx, record, err), wrapUpstream(err)
	}

	s.mu.Lock()
	record.Analysis = result
	record.Stage = model.StageAnalyzed
	record.Status = model.StatusCompleted
	record.ErrorMsg = ""
	record.UpdatedAt = time.Now()
	out := record.Clone()
	s.mu.Unlock()

	logger.Info(ctx, "analysis completed", "analysis_id", record.ID)
	return out, nil
}

// failTransition records an extraction failure. Stage never advances and
// prior results are preserved; the upstream detail stays on the record and
// in the logs only. Returns a snapshot taken under the store lock.
func (s *AnalysisService) failTransition(ctx context.Context, record *model.AnalysisRecord, cause error) *model.AnalysisRecord {
	s.mu.Lock()
	record.Status = model.StatusFailed
	record.ErrorMsg = cause.Error()
	record.UpdatedAt = time.Now()
	out := record.Clone()
	s.mu.Unlock()

	logger.Error(ctx, "extraction failed",
		"analysis_id", record.ID,
		"correlation_key", record.CorrelationKey,
		"error", cause,
	)
	return out
}

// failAnalysis marks a failed second stage: stage stays extracted, the
// extraction result remains retrievable. Returns a snapshot taken under
// the store lock.
func (s *AnalysisService) failAnalysis(ctx context.Context, record *model.AnalysisRecord, cause error) *model.AnalysisRecord {
	s.mu.Lock()
	record.Status = model.StatusFailed
	record.Stage = model.StageExtracted
	record.ErrorMsg = cause.Error()
	record.UpdatedAt = time.Now()
	out := record.Clone()
	s.mu.Unlock()

	logger.Error(ctx, "analysis failed", "analysis_id", record.ID, "error", cause)
	return out
}

// wrapUpstream hides raw upstream detail behind the generic retry message
// while keeping the kind for status mapping.
func wrapUpstream(err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = apperr.KindUpstreamUnavail
	}
	return apperr.Wrap(kind, "processing failed, please retry", err)
}

// GetRecord returns the record if the requester may view it. Invisible and
// absent records are indistinguishable.
func (s *AnalysisService) GetRecord(recordID, requesterID string) (*model.AnalysisRecord, error) {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(requesterID, record) {
		return nil, apperr.NotFound("analysis not found")
	}
	return s.snapshot(record), nil
}

// ListVisible returns every record the requester may view, newest first.
func (s *AnalysisService) ListVisible(requesterID string) []*model.AnalysisRecord {
	s.mu.RLock()
	candidates := make([]*model.AnalysisRecord, 0, len(s.records))
	for _, r := range s.records {
		candidates = append(candidates, r.Clone())
	}
	s.mu.RUnlock()

	var out []*model.AnalysisRecord
	for _, r := range candidates {
		if s.gate.CanView(requesterID, r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// DeleteRecord removes a record and cascades its share grants. Deletion
// always requires the analysis.delete capability, owner included.
func (s *AnalysisService) DeleteRecord(ctx context.Context, recordID, requesterID string) error {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(requesterID, record) {
		return apperr.NotFound("analysis not found")
	}
	if err := s.perms.Require(requesterID, model.PermAnalysisDelete); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, record.ID)
	if s.byKey[record.CorrelationKey] == record.ID {
		delete(s.byKey, record.CorrelationKey)
	}
	s.mu.Unlock()

	s.gate.DeleteAllFor(record.ID)

	logger.Info(ctx, "analysis deleted", "analysis_id", record.ID, "requester_id", requesterID)
	return nil
}

// GrantShare shares the record with granteeID. The record must be visible
// to the granter; only the owner may grant.
func (s *AnalysisService) GrantShare(ctx context.Context, recordID, granterID, granteeID string) error {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(granterID, record) {
		return apperr.NotFound("analysis not found")
	}
	return s.gate.Grant(ctx, record, granterID, granteeID)
}

// RevokeShare removes granteeID's access to the record.
func (s *AnalysisService) RevokeShare(ctx context.Context, recordID, granterID, granteeID string) error {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(granterID, record) {
		return apperr.NotFound("analysis not found")
	}
	return s.gate.Revoke(ctx, record, granterID, granteeID)
}

// SharedUsers lists grants on the record for its owner or a blanket viewer.
func (s *AnalysisService) SharedUsers(recordID, requesterID string) ([]*model.ShareGrant, error) {
	record := s.get(recordID)
	if record == nil || !s.gate.CanView(requesterID, record) {
		return nil, apperr.NotFound("analysis not found")
	}
	if record.OwnerID != requesterID && !s.perms.Authorize(requesterID, model.PermAnalysisViewAll) {
		return nil, apperr.PermissionDenied("not allowed to list shares on this record")
	}
	return s.gate.Grantees(record.ID), nil
}

func (s *AnalysisService) get(recordID string) *model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[recordID]
}

// snapshot copies the record under the store lock. Transitions mutate
// records in place, so every copy handed outside the service must be taken
// while holding the lock.
func (s *AnalysisService) snapshot(record *model.AnalysisRecord) *model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return record.Clone()
}

func (s *AnalysisService) getByKeySnapshot(key string) *model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedByKey(key).Clone()
}

// lockedByKey requires s.mu held (read or write).
func (s *AnalysisService) lockedByKey(key string) *model.AnalysisRecord {
	id, ok := s.byKey[key]
	if !ok {
		return nil
	}
	return s.records[id]
}

// cleanupIfNeeded removes oldest records if the store exceeds maxRecords.
// Must be called with s.mu held.
func (s *AnalysisService) cleanupIfNeeded() {
	if s.maxRecords <= 0 {
		return // Unlimited
	}
	if len(s.records) <= s.maxRecords {
		return
	}

	records := make([]*model.AnalysisRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	removeCount := len(records) - s.maxRecords
	for i := 0; i < removeCount; i++ {
		old := records[i]
		delete(s.records, old.ID)
		if s.byKey[old.CorrelationKey] == old.ID {
			delete(s.byKey, old.CorrelationKey)
		}
		s.gate.DeleteAllFor(old.ID)
	}
}

// Count returns the number of records in the store.
func (s *AnalysisService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
