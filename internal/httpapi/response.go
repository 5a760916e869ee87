package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/jobs"
	logx "contentpilot/pkg/logx"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return nil
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "encode response")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string, hints ...string) {
	_ = writeJSON(w, status, errorBody{Error: message, Hints: hints})
}

// writeServiceError maps orchestrator errors onto HTTP statuses. Unexpected
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, log logx.Logger, op string, err error) {
	switch {
	case jobs.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error(), jobs.Hints(err)...)
	case jobs.IsNotFound(err):
		writeError(w, http.StatusNotFound, "job not found")
	case jobs.IsBlocked(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error("request failed", logx.String("op", op), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, msg, err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}
