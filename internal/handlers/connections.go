package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// ConnectionHandler exposes the connection lifecycle.
type ConnectionHandler struct {
	svc *services.ConnectionService
}

func NewConnectionHandler(svc *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{svc: svc}
}

type reorderRequest struct {
	Items []services.ReorderItem `json:"items"`
}

// GET /api/connections
func (h *ConnectionHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	views, err := h.svc.List(requestContext(c), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// POST /api/connections
func (h *ConnectionHandler) Save(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.SaveInput
	if !bindJSON(c, &input) {
		return
	}

	result, err := h.svc.Save(requestContext(c), user, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

// POST /api/connections/test
func (h *ConnectionHandler) Test(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.SaveInput
	if !bindJSON(c, &input) {
		return
	}

	if err := h.svc.Test(requestContext(c), user, input); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Connection successful")
}

// DELETE /api/connections/:id
func (h *ConnectionHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.svc.Disconnect(requestContext(c), user, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Connection removed")
}

// POST /api/connections/reorder
func (h *ConnectionHandler) Reorder(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req reorderRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.svc.Reorder(requestContext(c), user, req.Items)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// DELETE /api/connections/folders/:id
func (h *ConnectionHandler) DeleteFolder(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	moved, err := h.svc.DeleteFolder(requestContext(c), user, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"moved": moved})
}

// POST /api/connections/:id/check
func (h *ConnectionHandler) Check(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.svc.Recheck(requestContext(c), user, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}
