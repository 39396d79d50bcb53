package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"quiz-rooms/internal/app"
	"quiz-rooms/internal/domain"
)

// LookupHandler serves GET /room/{code} so a join screen can check a code before connecting.
type LookupHandler struct {
	service *app.QuizService
	logger  *zap.Logger
}

func NewLookupHandler(service *app.QuizService, logger *zap.Logger) *LookupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LookupHandler{service: service, logger: logger}
}

func (h *LookupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Lookup(r.Context(), mux.Vars(r)["code"])
	switch {
	case errors.Is(err, domain.ErrInvalidRoomCode):
		writeJSON(w, http.StatusBadRequest, domain.NewErrorPayload(err))
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrRoomClosed):
		writeJSON(w, http.StatusNotFound, domain.NewErrorPayload(domain.ErrRoomNotFound))
	case err != nil:
		h.logger.Error("room lookup", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, domain.NewErrorPayload(domain.ErrInternal))
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
