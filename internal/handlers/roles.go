package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// RoleHandler manages custom roles and publishes the permission vocabulary.
type RoleHandler struct {
	roles *services.RoleService
}

func NewRoleHandler(roles *services.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

type permissionView struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// GET /api/permissions
func (h *RoleHandler) Vocabulary(c *gin.Context) {
	defs := permissions.Definitions()
	views := make([]permissionView, 0, len(defs))
	for _, def := range defs {
		views = append(views, permissionView{ID: def.ID, Description: def.Description})
	}
	response.Success(c, http.StatusOK, views)
}

// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	roles, err := h.roles.List(requestContext(c), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, roles)
}

// GET /api/roles/:name
func (h *RoleHandler) Get(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	role, err := h.roles.Get(requestContext(c), actor, c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// POST /api/roles
func (h *RoleHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.RoleInput
	if !bindJSON(c, &input) {
		return
	}

	role, err := h.roles.Create(requestContext(c), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, role)
}

// PUT /api/roles/:name
func (h *RoleHandler) Update(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.RoleInput
	if !bindJSON(c, &input) {
		return
	}

	role, err := h.roles.Update(requestContext(c), actor, c.Param("name"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// DELETE /api/roles/:name
func (h *RoleHandler) Delete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.roles.Delete(requestContext(c), actor, c.Param("name")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Role deleted")
}
