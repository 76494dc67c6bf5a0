package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// QueryHandler runs statements and browses catalogs on a registered connection.
type QueryHandler struct {
	query      *services.QueryService
	introspect *services.IntrospectionService
}

func NewQueryHandler(query *services.QueryService, introspect *services.IntrospectionService) *QueryHandler {
	return &QueryHandler{query: query, introspect: introspect}
}

type queryRequest struct {
	SQL string `json:"sql" validate:"required"`
}

// POST /api/connections/:id/query
func (h *QueryHandler) Execute(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req queryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.query.Execute(requestContext(c), user, c.Param("id"), req.SQL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/connections/:id/schemas
func (h *QueryHandler) Schemas(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	schemas, err := h.introspect.Schemas(requestContext(c), user, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, schemas)
}

// GET /api/connections/:id/tables?schema=
func (h *QueryHandler) Tables(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	tables, err := h.introspect.Tables(requestContext(c), user, c.Param("id"), c.Query("schema"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tables)
}

// GET /api/connections/:id/views?schema=
func (h *QueryHandler) Views(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	views, err := h.introspect.Views(requestContext(c), user, c.Param("id"), c.Query("schema"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// GET /api/connections/:id/tables/:table?schema=
func (h *QueryHandler) TableInfo(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	info, err := h.introspect.TableInfo(requestContext(c), user, c.Param("id"), c.Query("schema"), c.Param("table"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, info)
}
