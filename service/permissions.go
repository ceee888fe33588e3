package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
)

// PermissionStore holds role/permission definitions and user assignments.
// Resolution reads the store directly on every call, so mutations are
// visible on the next request without an explicit cache invalidation step.
type PermissionStore struct {
	mu          sync.RWMutex
	permissions map[string]*model.Permission // by name
	roles       map[string]*model.Role       // by name
	rolePerms   map[string]map[string]bool   // role name -> permission names
	userRoles   map[string]map[string]bool   // user ID -> role names
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		permissions: make(map[string]*model.Permission),
		roles:       make(map[string]*model.Role),
		rolePerms:   make(map[string]map[string]bool),
		userRoles:   make(map[string]map[string]bool),
	}
}

// AllPermissionNames returns every registered capability, in order.
func AllPermissionNames() []string {
	return []string{
		model.PermDocumentsUpload,
		model.PermDocumentsDelete,
		model.PermAnalysisRun,
		model.PermAnalysisRerun,
		model.PermAnalysisDelete,
		model.PermAnalysisViewAll,
		model.PermAnalysisManage,
		model.PermRolesManage,
	}
}

// SeedDefaults registers the built-in permissions and roles. The
// administrator role receives every permission as an explicit grant; there
// is no role-name special case anywhere in authorization checks.
func (s *PermissionStore) SeedDefaults() {
	for _, name := range AllPermissionNames() {
		_ = s.RegisterPermission(name)
	}

	_ = s.CreateRole("member", "Can upload document pairs and run analyses on them")
	_ = s.CreateRole("auditor", "Read access to every analysis record")
	_ = s.CreateRole("administrator", "All capabilities, granted explicitly")

	for _, p := range []string{model.PermDocumentsUpload, model.PermAnalysisRun} {
		_ = s.GrantPermission("member", p)
	}
	_ = s.GrantPermission("auditor", model.PermAnalysisViewAll)
	for _, p := range AllPermissionNames() {
		_ = s.GrantPermission("administrator", p)
	}
}

// RegisterPermission adds a capability. Names are globally unique.
func (s *PermissionStore) RegisterPermission(name string) error {
	if name == "" {
		return apperr.Validation("permission name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[name]; ok {
		return apperr.Conflict(fmt.Sprintf("permission %q already exists", name))
	}
	s.permissions[name] = &model.Permission{
		ID:       uuid.New().String(),
		Name:     name,
		Category: model.PermissionCategory(name),
	}
	return nil
}

// CreateRole adds a role with an empty permission set.
func (s *PermissionStore) CreateRole(name, description string) error {
	if name == "" {
		return apperr.Validation("role name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; ok {
		return apperr.Conflict(fmt.Sprintf("role %q already exists", name))
	}
	s.roles[name] = &model.Role{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
	}
	s.rolePerms[name] = make(map[string]bool)
	return nil
}

// GrantPermission attaches a registered permission to a role.
func (s *PermissionStore) GrantPermission(roleName, permName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleName]; !ok {
		return apperr.NotFound(fmt.Sprintf("role %q not found", roleName))
	}
	if _, ok := s.permissions[permName]; !ok {
		return apperr.NotFound(fmt.Sprintf("permission %q not found", permName))
	}
	s.rolePerms[roleName][permName] = true
	return nil
}

// RevokePermission detaches a permission from a role.
func (s *PermissionStore) RevokePermission(roleName, permName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms, ok := s.rolePerms[roleName]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("role %q not found", roleName))
	}
	delete(perms, permName)
	return nil
}

// AssignRole adds a role to a user's assignment set.
func (s *PermissionStore) AssignRole(userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleName]; !ok {
		return apperr.NotFound(fmt.Sprintf("role %q not found", roleName))
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = make(map[string]bool)
	}
	s.userRoles[userID][roleName] = true
	return nil
}

// UnassignRole removes a role from a user.
func (s *PermissionStore) UnassignRole(userID, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles[userID], roleName)
}

// Roles lists all roles sorted by name.
func (s *PermissionStore) Roles() []*model.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RolePermissions lists the permission names attached to a role, sorted.
func (s *PermissionStore) RolePermissions(roleName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := s.rolePerms[roleName]
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolve computes the effective permission set for a user: the union over
// every assigned role. Unknown users resolve to the empty set, never an
// error.
func (s *PermissionStore) Resolve(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]bool)
	for roleName := range s.userRoles[userID] {
		for perm := range s.rolePerms[roleName] {
			set[perm] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Authorize reports whether the user's effective set contains the
// permission. This is a pure set-membership check.
func (s *PermissionStore) Authorize(userID, permName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for roleName := range s.userRoles[userID] {
		if s.rolePerms[roleName][permName] {
			return true
		}
	}
	return false
}

// Require is Authorize with a PermissionDenied error on failure.
func (s *PermissionStore) Require(userID, permName string) error {
	if !s.Authorize(userID, permName) {
		return apperr.PermissionDenied(fmt.Sprintf("missing permission %s", permName))
	}
	return nil
}
