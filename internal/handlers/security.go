package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/security"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// SecurityHandler reports the deployment's security posture to administrators.
type SecurityHandler struct {
	posture *security.PostureService
	engine  *permissions.Engine
}

func NewSecurityHandler(posture *security.PostureService, engine *permissions.Engine) *SecurityHandler {
	return &SecurityHandler{posture: posture, engine: engine}
}

// GET /api/security/audit
func (h *SecurityHandler) Audit(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	if err := h.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.posture.Run(ctx))
}
