package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
)

// StatusFromError maps an error onto the HTTP status reported to the client.
func StatusFromError(err error) int {
	switch {
	case internalerrors.IsNotFound(err):
		return http.StatusNotFound
	case internalerrors.IsValidation(err):
		return http.StatusBadRequest
	case internalerrors.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, internalerrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, err error) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		// Internal details stay in the log
		if status == http.StatusInternalServerError {
			http.Error(w, http.StatusText(status), status)
			return
		}
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("error encoding response: %v", err)
	}
}

func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: user id should be a positive integer, got %q", internalerrors.ErrInvalidInput, raw)
	}
	return userID, nil
}
