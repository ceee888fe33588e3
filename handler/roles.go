package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rt-heroku/contract-analysis-sub001/middleware"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

// RoleHandler exposes the role/permission admin surface. Every route is
// gated by roles.manage, which is itself an explicit grant like any other.
type RoleHandler struct {
	perms *service.PermissionStore
}

func NewRoleHandler(perms *service.PermissionStore) *RoleHandler {
	return &RoleHandler{perms: perms}
}

func (h *RoleHandler) requireManage(c *gin.Context) bool {
	if err := h.perms.Require(middleware.GetUserID(c), model.PermRolesManage); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// List returns all roles with their permission sets.
func (h *RoleHandler) List(c *gin.Context) {
	if !h.requireManage(c) {
		return
	}

	roles := h.perms.Roles()
	result := make([]gin.H, len(roles))
	for i, r := range roles {
		result[i] = gin.H{
			"name":        r.Name,
			"description": r.Description,
			"permissions": h.perms.RolePermissions(r.Name),
		}
	}

	c.JSON(http.StatusOK, gin.H{"roles": result})
}

type CreateRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create adds a new empty role.
func (h *RoleHandler) Create(c *gin.Context) {
	if !h.requireManage(c) {
		return
	}

	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.perms.CreateRole(req.Name, req.Description); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Role created"})
}

type GrantPermissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// GrantPermission attaches a permission to a role.
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	if !h.requireManage(c) {
		return
	}

	var req GrantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.perms.GrantPermission(c.Param("name"), req.Permission); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Permission granted"})
}

type AssignRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// AssignRole adds a role to a user.
func (h *RoleHandler) AssignRole(c *gin.Context) {
	if !h.requireManage(c) {
		return
	}

	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.perms.AssignRole(c.Param("id"), req.Role); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Role assigned"})
}
