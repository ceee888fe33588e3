package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/middleware"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/logger"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

// ExtractionPendingCode is the machine-checkable marker clients poll on.
const ExtractionPendingCode = "extraction_pending"

type AnalysisHandler struct {
	analyses *service.AnalysisService
}

func NewAnalysisHandler(analyses *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

type StartJobRequest struct {
	ContractUploadID string `json:"contract_upload_id" binding:"required"`
	DataUploadID     string `json:"data_upload_id" binding:"required"`
	ForceReprocess   bool   `json:"force_reprocess"`
}

// Start creates or returns the analysis record for an upload pair and runs
// the extraction stage.
func (h *AnalysisHandler) Start(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	record, err := h.analyses.StartJob(c.Request.Context(), userID, req.ContractUploadID, req.DataUploadID, req.ForceReprocess)
	if err != nil {
		if record != nil {
			// The failure is captured on the record; tell the caller
			// which record to retry.
			kind := statusForRecordFailure(c, err)
			c.JSON(kind, gin.H{
				"error":              safeMessage(err),
				"analysis_record_id": record.ID,
				"status":             record.Status,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_record_id": record.ID,
		"stage":              record.Stage,
		"status":             record.Status,
	})
}

// statusForRecordFailure logs upstream detail and picks the HTTP status for
// a transition failure that was captured on a record.
func statusForRecordFailure(c *gin.Context, err error) int {
	if apperr.IsUpstream(err) {
		logger.Error(c.Request.Context(), "upstream processing error", "error", err)
	}
	return statusFor(apperr.KindOf(err))
}

// Reprocess redoes the extraction stage unconditionally.
func (h *AnalysisHandler) Reprocess(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	record, err := h.analyses.ForceReprocess(c.Request.Context(), id, userID)
	if err != nil {
		if record != nil {
			c.JSON(statusForRecordFailure(c, err), gin.H{
				"error":              safeMessage(err),
				"analysis_record_id": record.ID,
				"status":             record.Status,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_record_id": record.ID,
		"stage":              record.Stage,
		"status":             record.Status,
	})
}

// Analyze runs the second stage on an extracted record.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	record, err := h.analyses.TriggerAnalysis(c.Request.Context(), id, userID)
	if err != nil {
		if record != nil {
			c.JSON(statusForRecordFailure(c, err), gin.H{
				"error":              safeMessage(err),
				"analysis_record_id": record.ID,
				"status":             record.Status,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_record_id": record.ID,
		"stage":              record.Stage,
		"status":             record.Status,
	})
}

// Get returns the full record projection for authorized viewers.
func (h *AnalysisHandler) Get(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	record, err := h.analyses.GetRecord(id, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// List returns every record visible to the caller.
func (h *AnalysisHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	records := h.analyses.ListVisible(userID)

	result := make([]gin.H, len(records))
	for i, r := range records {
		result[i] = gin.H{
			"id":              r.ID,
			"correlation_key": r.CorrelationKey,
			"owner_id":        r.OwnerID,
			"stage":           r.Stage,
			"status":          r.Status,
			"created_at":      r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":      r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"analyses": result})
}

// GetContract returns the extraction projection once available. Until then
// it answers 404 with the extraction_pending marker the polling protocol
// retries on.
func (h *AnalysisHandler) GetContract(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	record, err := h.analyses.GetRecord(id, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if !record.StageAtLeast(model.StageExtracted) || record.Extraction == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "extraction not yet available",
			"code":  ExtractionPendingCode,
		})
		return
	}

	c.JSON(http.StatusOK, record.Extraction)
}

// Delete removes a record; its share grants go with it.
func (h *AnalysisHandler) Delete(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id := c.Param("id")

	if err := h.analyses.DeleteRecord(c.Request.Context(), id, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Analysis deleted"})
}
