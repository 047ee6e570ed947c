package handlers

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/idgate/idgate/internal/middleware"
	"github.com/idgate/idgate/internal/models"
	"github.com/idgate/idgate/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	responder
	authService    *service.AuthService
	maxUploadBytes int64
	otpValidity    time.Duration
}

func NewAuthHandlers(
	authService *service.AuthService,
	maxUploadBytes int64,
	otpValidity time.Duration,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		responder:      responder{logger: logger},
		authService:    authService,
		maxUploadBytes: maxUploadBytes,
		otpValidity:    otpValidity,
	}
}

type RegisterResponse struct {
	Message string          `json:"message"`
	User    models.UserView `json:"user"`
}

type LoginRequest struct {
	EmailOrPhone string `json:"email_or_phone"`
	Password     string `json:"password"`
}

type LoginResponse struct {
	Token      string `json:"token"`
	TokenType  string `json:"token_type"`
	ExpiresIn  int64  `json:"expires_in"`
	IsVerified bool   `json:"is_verified"`
	Name       string `json:"name"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// Register accepts a multipart form with the user's details and the two
// identity-document images (nid_front, nid_back).
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	nidFront, err := formDocument(r, "nid_front")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	nidBack, err := formDocument(r, "nid_back")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	user, err := h.authService.Register(r.Context(), service.RegisterInput{
		Name:     r.FormValue("name"),
		Email:    r.FormValue("email"),
		Phone:    r.FormValue("phone"),
		Password: r.FormValue("password"),
		NIDFront: nidFront,
		NIDBack:  nidBack,
		Photo:    r.FormValue("photo"),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, RegisterResponse{
		Message: "Registration successful! Please wait for admin verification.",
		User:    user.View(),
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	result, err := h.authService.Login(r.Context(), req.EmailOrPhone, req.Password)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, LoginResponse{
		Token:      result.Session.Token,
		TokenType:  result.Session.TokenType,
		ExpiresIn:  result.Session.ExpiresIn,
		IsVerified: result.User.IsVerified,
		Name:       result.User.Name,
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return
	}

	h.respondWithJSON(w, http.StatusOK, user.View())
}

func (h *AuthHandlers) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Email is required")
		return
	}

	if err := h.authService.GenerateAndSendOTP(r.Context(), req.Email); err != nil {
		// An unknown email is a bad request on this route, not a missing resource.
		if service.KindOf(err) == service.KindNotFound {
			h.respondWithError(w, http.StatusBadRequest, "USER_NOT_FOUND", "No user found with that email")
			return
		}
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("OTP sent to your email (valid for %s)", humanDuration(h.otpValidity)),
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	valid, err := h.authService.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !valid {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_OTP", "Invalid or expired OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "OTP verified"})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.authService.ResetPasswordWithOTP(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful"})
}

// formDocument reads an uploaded file field. The content type is sniffed
// from the bytes rather than taken from the client.
func formDocument(r *http.Request, field string) (*service.Document, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s upload", field)
	}

	head, err := readHead(file)
	if err != nil {
		return nil, fmt.Errorf("invalid %s upload", field)
	}

	return &service.Document{
		Filename:    header.Filename,
		ContentType: http.DetectContentType(head),
		Size:        header.Size,
		Body:        io.MultiReader(bytes.NewReader(head), file),
	}, nil
}

func readHead(file multipart.File) ([]byte, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
