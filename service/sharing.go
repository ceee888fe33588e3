package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/logger"
)

// SharingGate answers visibility questions for analysis records and manages
// explicit share grants. Grants are non-transitive: only the record owner
// may grant or revoke.
type SharingGate struct {
	mu     sync.RWMutex
	grants map[string]map[string]*model.ShareGrant // analysis ID -> grantee ID -> grant
	perms  *PermissionStore
}

func NewSharingGate(perms *PermissionStore) *SharingGate {
	return &SharingGate{
		grants: make(map[string]map[string]*model.ShareGrant),
		perms:  perms,
	}
}

// CanView reports whether the user may read the record: owner, explicit
// grantee, or holder of the blanket view permission.
func (g *SharingGate) CanView(userID string, record *model.AnalysisRecord) bool {
	if record == nil {
		return false
	}
	if record.OwnerID == userID {
		return true
	}
	g.mu.RLock()
	_, granted := g.grants[record.ID][userID]
	g.mu.RUnlock()
	if granted {
		return true
	}
	return g.perms.Authorize(userID, model.PermAnalysisViewAll)
}

// Grant gives granteeID read access to the record. Only the owner may
// grant. Granting to the owner or repeating a grant is a no-op.
func (g *SharingGate) Grant(ctx context.Context, record *model.AnalysisRecord, granterID, granteeID string) error {
	if record.OwnerID != granterID {
		return apperr.PermissionDenied("only the owner can share an analysis")
	}
	if granteeID == "" {
		return apperr.Validation("grantee user ID required")
	}
	if granteeID == record.OwnerID {
		return nil
	}

	g.mu.Lock()
	if g.grants[record.ID] == nil {
		g.grants[record.ID] = make(map[string]*model.ShareGrant)
	}
	if _, ok := g.grants[record.ID][granteeID]; !ok {
		g.grants[record.ID][granteeID] = &model.ShareGrant{
			AnalysisID:  record.ID,
			GranteeID:   granteeID,
			GrantedByID: granterID,
			CreatedAt:   time.Now(),
		}
	}
	g.mu.Unlock()

	logger.Info(ctx, "share granted",
		"analysis_id", record.ID,
		"grantee_id", granteeID,
		"granter_id", granterID,
	)
	return nil
}

// Revoke removes granteeID's access. Only the owner may revoke.
func (g *SharingGate) Revoke(ctx context.Context, record *model.AnalysisRecord, granterID, granteeID string) error {
	if record.OwnerID != granterID {
		return apperr.PermissionDenied("only the owner can revoke a share")
	}

	g.mu.Lock()
	delete(g.grants[record.ID], granteeID)
	g.mu.Unlock()

	logger.Info(ctx, "share revoked", "analysis_id", record.ID, "grantee_id", granteeID)
	return nil
}

// Grantees lists the grants on a record, oldest first.
func (g *SharingGate) Grantees(analysisID string) []*model.ShareGrant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*model.ShareGrant, 0, len(g.grants[analysisID]))
	for _, grant := range g.grants[analysisID] {
		out = append(out, grant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeleteAllFor drops every grant on a record. Called when the record is
// deleted so grants never outlive their target.
func (g *SharingGate) DeleteAllFor(analysisID string) {
	g.mu.Lock()
	delete(g.grants, analysisID)
	g.mu.Unlock()
}
