package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/idgate/idgate/internal/service"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type responder struct {
	logger *logrus.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("Failed to write response")
	}
}

func (h responder) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// respondWithServiceError maps domain errors onto their status codes.
// Anything unexpected becomes a 500 without detail.
func (h responder) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || svcErr.Kind == service.KindInternal {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	if svcErr.Err != nil {
		h.logger.WithError(svcErr.Err).WithField("path", r.URL.Path).Warn(svcErr.Message)
	}
	h.respondWithError(w, svcErr.Kind.HTTPStatus(), svcErr.Kind.String(), svcErr.Message)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
