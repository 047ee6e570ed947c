package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/idgate/idgate/internal/middleware"
	"github.com/idgate/idgate/internal/models"
	"github.com/idgate/idgate/internal/service"
	"github.com/sirupsen/logrus"
)

type UserHandlers struct {
	responder
	adminService   *service.AdminService
	profileService *service.ProfileService
	authService    *service.AuthService
	tokens         service.TokenIssuer
}

func NewUserHandlers(
	adminService *service.AdminService,
	profileService *service.ProfileService,
	authService *service.AuthService,
	tokens service.TokenIssuer,
	logger *logrus.Logger,
) *UserHandlers {
	return &UserHandlers{
		responder:      responder{logger: logger},
		adminService:   adminService,
		profileService: profileService,
		authService:    authService,
		tokens:         tokens,
	}
}

type UpdateProfileResponse struct {
	User    models.UserView `json:"user"`
	Session *models.Session `json:"session,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := service.ParseVerificationFilter(r.URL.Query().Get("verified"))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	users, err := h.adminService.ListUsers(r.Context(), middleware.UserFromContext(r.Context()), filter)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, users)
}

func (h *UserHandlers) SetVerification(w http.ResponseWriter, r *http.Request) {
	approve, err := strconv.ParseBool(r.URL.Query().Get("approve"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "approve must be true or false")
		return
	}

	user, err := h.adminService.SetVerification(
		r.Context(),
		middleware.UserFromContext(r.Context()),
		mux.Vars(r)["id"],
		approve,
	)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, user.View())
}

// UpdateMe applies a partial profile update. A new session is returned when
// the email changes, since tokens are bound to the email.
func (h *UserHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	var patch models.ProfilePatch
	if err := decodeJSON(r, &patch); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	updated, err := h.profileService.UpdateOwnProfile(r.Context(), user, patch)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	resp := UpdateProfileResponse{User: updated.View()}
	if updated.Email != user.Email {
		session, err := h.tokens.Issue(updated.Email)
		if err != nil {
			h.respondWithServiceError(w, r, err)
			return
		}
		resp.Session = session
	}

	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *UserHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.authService.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password changed successfully"})
}
