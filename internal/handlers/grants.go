package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// GrantHandler shares a connection with other users.
type GrantHandler struct {
	grants *services.GrantService
}

func NewGrantHandler(grants *services.GrantService) *GrantHandler {
	return &GrantHandler{grants: grants}
}

// GET /api/connections/:id/grants
func (h *GrantHandler) List(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	grants, err := h.grants.ListForResource(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// POST /api/connections/:id/grants
func (h *GrantHandler) Upsert(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.GrantInput
	if !bindJSON(c, &input) {
		return
	}

	grant, err := h.grants.Upsert(requestContext(c), actor, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grant)
}

// DELETE /api/connections/:id/grants/:username
func (h *GrantHandler) Delete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.grants.Delete(requestContext(c), actor, c.Param("id"), c.Param("username")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Grant revoked")
}
