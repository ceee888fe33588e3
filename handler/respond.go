package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/logger"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindUpstreamRejected, apperr.KindUpstreamUnavail:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the caller-safe message for err. Upstream causes are
// logged with full detail but never serialized into the response.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		logger.Error(c.Request.Context(), "unclassified error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if apperr.IsUpstream(err) {
		logger.Error(c.Request.Context(), "upstream processing error", "kind", kind, "error", err)
	}

	body := gin.H{"error": safeMessage(err), "code": string(kind)}
	c.JSON(statusFor(kind), body)
}

func safeMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "request failed"
}
