package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeChatError отдаёт классифицированную ошибку чата с соответствующим HTTP-статусом.
// Причина (storage error) только логируется.
func writeChatError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, chat.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s: %v", op, err)
	}
	writeJSON(w, status, errorResponse{Error: chat.PublicMessage(err), Code: chat.Code(err)})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
