package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

type AuditHandler struct {
	svc    *services.AuditService
	engine *permissions.Engine
}

func NewAuditHandler(svc *services.AuditService, engine *permissions.Engine) *AuditHandler {
	return &AuditHandler{svc: svc, engine: engine}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	if err := h.engine.Require(ctx, actor, "", permissions.ManageUsers); err != nil {
		response.Error(c, err)
		return
	}

	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		Username: c.Query("username"),
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.svc.List(ctx, services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}
