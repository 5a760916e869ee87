package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"contentpilot/internal/jobs"
	"contentpilot/internal/storage"
	"contentpilot/internal/task/scheduler"
)

type listResponse struct {
	Jobs  []storage.Job `json:"jobs"`
	Count int           `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		writeServiceError(w, s.log, "list", err)
		return
	}
	if list == nil {
		list = []storage.Job{}
	}
	_ = writeJSON(w, http.StatusOK, listResponse{Jobs: list, Count: len(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.log, "get", err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	job, err := s.jobs.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.log, "create", err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var upd jobs.JobUpdate
	if !readJSON(w, r, &upd) {
		return
	}
	job, err := s.jobs.Update(r.Context(), id, upd)
	if err != nil {
		writeServiceError(w, s.log, "update", err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		writeServiceError(w, s.log, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// A client disconnect must not cut a generation run short.
	out, err := s.jobs.Trigger(context.WithoutCancel(r.Context()), id)
	if err != nil {
		writeServiceError(w, s.log, "trigger", err)
		return
	}
	_ = writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	n := s.jobs.EmergencyStop()
	_ = writeJSON(w, http.StatusOK, map[string]int{"stoppedCount": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.jobs.Status()
	if st.Jobs == nil {
		st.Jobs = []scheduler.EntryStatus{}
	}
	_ = writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.Init(r.Context())
	if err != nil {
		writeServiceError(w, s.log, "init", err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]int{"armedCount": n})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.jobs.Runs(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, s.log, "runs", err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if s.health != nil {
		body["details"] = s.health()
	}
	_ = writeJSON(w, http.StatusOK, body)
}
