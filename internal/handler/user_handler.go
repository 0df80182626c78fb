package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"starterkit/internal/guard"
	"starterkit/internal/model"
	"starterkit/internal/service"
)

// UserHandler bundles the protected user endpoints.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a handler layer.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// UpdateProfileRequest carries the optional profile fields.
type UpdateProfileRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=2,max=50"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

func (r *UpdateProfileRequest) trim() {
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		r.Name = &name
	}
	if r.Email != nil {
		email := strings.TrimSpace(*r.Email)
		r.Email = &email
	}
}

// ListUsersResponse wraps the admin user listing.
type ListUsersResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Data    []model.User `json:"data"`
}

// ProfileResponse is returned after a profile update.
type ProfileResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// MessageResponse is a bare success envelope.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListUsers godoc
// @Summary List users
// @Description Admin only.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ListUsersResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users [get]
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.svc.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []model.User{}
	}
	return c.JSON(http.StatusOK, ListUsersResponse{
		Success: true,
		Count:   len(users),
		Data:    users,
	})
}

// UpdateProfile godoc
// @Summary Update own profile
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateProfileRequest true "Fields to change"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/profile [put]
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	current := guard.MustIdentity(c)

	var req UpdateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	updated, err := h.svc.UpdateProfile(c.Request().Context(), current, service.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ProfileResponse{
		Success: true,
		Message: "Profile updated successfully",
		User:    updated,
	})
}

// DeleteAccount godoc
// @Summary Delete own account
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MessageResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/profile [delete]
func (h *UserHandler) DeleteAccount(c echo.Context) error {
	current := guard.MustIdentity(c)

	if err := h.svc.DeleteAccount(c.Request().Context(), current.ID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{
		Success: true,
		Message: "Account deleted successfully",
	})
}
