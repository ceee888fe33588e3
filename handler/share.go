package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/middleware"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

type ShareHandler struct {
	analyses *service.AnalysisService
}

func NewShareHandler(analyses *service.AnalysisService) *ShareHandler {
	return &ShareHandler{analyses: analyses}
}

type ShareRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Grant shares an analysis record with another user.
func (h *ShareHandler) Grant(c *gin.Context) {
	granterID := middleware.GetUserID(c)
	recordID := c.Param("id")

	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.analyses.GrantShare(c.Request.Context(), recordID, granterID, req.UserID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Share granted"})
}

// Revoke removes a grantee's access.
func (h *ShareHandler) Revoke(c *gin.Context) {
	granterID := middleware.GetUserID(c)
	recordID := c.Param("id")
	granteeID := c.Param("userId")

	if err := h.analyses.RevokeShare(c.Request.Context(), recordID, granterID, granteeID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Share revoked"})
}

// List returns the users a record is shared with.
func (h *ShareHandler) List(c *gin.Context) {
	requesterID := middleware.GetUserID(c)
	recordID := c.Param("id")

	grants, err := h.analyses.SharedUsers(recordID, requesterID)
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]gin.H, len(grants))
	for i, g := range grants {
		result[i] = gin.H{
			"user_id":       g.GranteeID,
			"granted_by_id": g.GrantedByID,
			"created_at":    g.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"shared_users": result})
}
