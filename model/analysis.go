package model

import (
	"encoding/json"
	"time"
)

// Analysis stage constants. Stage moves forward through the workflow; the
// one exception is a forced reprocess, which replaces the extraction and
// drops the record back to extracted.
const (
	StageUnstarted = "unstarted"
	StageExtracted = "extracted"
	StageAnalyzed  = "analyzed"
)

// Analysis status constants. Status reflects the outcome of the most recent
// transition attempt on the record.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StageRank maps a stage to its position in the lifecycle, for ordering
// comparisons.
func StageRank(stage string) int {
	switch stage {
	case StageExtracted:
		return 1
	case StageAnalyzed:
		return 2
	default:
		return 0
	}
}

// ExtractionResult is the normalized output of the extraction stage.
type ExtractionResult struct {
	DocumentName string          `json:"document_name"`
	Status       string          `json:"status"`
	Terms        []string        `json:"terms"`
	Products     []string        `json:"products"`
	Raw          json.RawMessage `json:"-"`
}

// AnalysisResult is the normalized output of the analysis stage.
type AnalysisResult struct {
	Summary        string `json:"summary"`
	MarkdownReport string `json:"markdown_report"`
}

// AnalysisRecord tracks one document pair through the two-stage workflow.
// Only the analysis service mutates it.
type AnalysisRecord struct {
	ID               string            `json:"id"`
	CorrelationKey   string            `json:"correlation_key"`
	OwnerID          string            `json:"owner_id"`
	ContractUploadID string            `json:"contract_upload_id"`
	DataUploadID     string            `json:"data_upload_id"`
	Stage            string            `json:"stage"`
	Status           string            `json:"status"`
	Extraction       *ExtractionResult `json:"extraction,omitempty"`
	Analysis         *AnalysisResult   `json:"analysis,omitempty"`
	ErrorMsg         string            `json:"-"` // upstream detail, logged but never returned
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// StageAtLeast reports whether the record has reached the given stage.
func (r *AnalysisRecord) StageAtLeast(stage string) bool {
	return StageRank(r.Stage) >= StageRank(stage)
}

// Clone returns a shallow copy safe to hand to callers while the store
// retains the canonical record.
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
