package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbwarden/internal/services"
	"github.com/charlesng35/dbwarden/pkg/response"
)

// UserHandler administers accounts and exposes the caller's profile.
type UserHandler struct {
	users  *services.UserService
	grants *services.GrantService
}

func NewUserHandler(users *services.UserService, grants *services.GrantService) *UserHandler {
	return &UserHandler{users: users, grants: grants}
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 20)

	users, total, err := h.users.List(requestContext(c), actor, services.ListUsersOptions{
		Page:     page,
		PageSize: per,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}

// GET /api/users/:username
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.users.Get(requestContext(c), actor, c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.CreateUserInput
	if !bindJSON(c, &input) {
		return
	}

	user, err := h.users.Create(requestContext(c), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// PUT /api/users/:username/role
func (h *UserHandler) SetRole(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var req setRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetRole(requestContext(c), actor, c.Param("username"), req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PUT /api/users/:username/password
func (h *UserHandler) ResetPassword(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.ResetPassword(requestContext(c), actor, c.Param("username"), req.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Password updated")
}

// DELETE /api/users/:username
func (h *UserHandler) Delete(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.users.Delete(requestContext(c), actor, c.Param("username")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "User deleted")
}

// GET /api/users/:username/grants
func (h *UserHandler) Grants(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	grants, err := h.grants.ListForUser(requestContext(c), actor, c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// PUT /api/profile/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.ChangePassword(requestContext(c), actor, req.OldPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Password updated")
}
