package model

import (
	"strings"
	"time"
)

// Permission names. Every capability, administrative ones included, is an
// explicit grant; there is no wildcard role.
const (
	PermDocumentsUpload = "documents.upload"
	PermDocumentsDelete = "documents.delete"
	PermAnalysisRun     = "analysis.run"
	PermAnalysisRerun   = "analysis.rerun"
	PermAnalysisDelete  = "analysis.delete"
	PermAnalysisViewAll = "analysis.view_all"
	PermAnalysisManage  = "analysis.manage"
	PermRolesManage     = "roles.manage"
)

// Role is a named bundle of permissions. A user's effective permission set
// is the union over assigned roles; there is no inheritance.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission is a single dotted capability string, globally unique by name.
type Permission struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// PermissionCategory derives the category from the dotted name, e.g.
// "analysis.delete" -> "analysis".
func PermissionCategory(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// ShareGrant is an explicit, revocable, non-transitive read grant on one
// analysis record.
type ShareGrant struct {
	AnalysisID  string    `json:"analysis_id"`
	GranteeID   string    `json:"grantee_id"`
	GrantedByID string    `json:"granted_by_id"`
	CreatedAt   time.Time `json:"created_at"`
}
