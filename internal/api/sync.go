package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/marin/crate/internal/serverdb"
)

type pushOpRequest struct {
	OpID            string          `json:"opId"`
	Entity          string          `json:"entity"`
	Action          string          `json:"action"`
	Payload         json.RawMessage `json:"payload"`
	ClientUpdatedAt time.Time       `json:"clientUpdatedAt"`
}

type pushRequest struct {
	DeviceID string          `json:"deviceId"`
	Ops      []pushOpRequest `json:"ops"`
}

type conflictResponse struct {
	OpID          string          `json:"opId"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entityId"`
	Reason        string          `json:"reason"`
	ServerVersion int64           `json:"serverVersion"`
	ServerRecord  json.RawMessage `json:"serverRecord,omitempty"`
}

type pushResponse struct {
	AppliedOpIDs  []string           `json:"appliedOpIds"`
	Conflicts     []conflictResponse `json:"conflicts"`
	ServerVersion int64              `json:"serverVersion"`
}

type changeResponse struct {
	Version   int64           `json:"version"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type pullResponse struct {
	Changes     []changeResponse `json:"changes"`
	NextVersion int64            `json:"nextVersion"`
	HasMore     bool             `json:"hasMore"`
}

// handleSyncPush applies a batch of client operations and returns acks and
// conflicts.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "deviceId is required")
		return
	}
	if len(req.Ops) > s.config.MaxPushOps {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "too many ops in one push")
		return
	}
	for _, op := range req.Ops {
		if op.OpID == "" {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "every op needs an opId")
			return
		}
	}

	ops := make([]serverdb.PushOp, len(req.Ops))
	for i, op := range req.Ops {
		ops[i] = serverdb.PushOp{
			OpID:            op.OpID,
			Entity:          op.Entity,
			Action:          op.Action,
			Payload:         op.Payload,
			ClientUpdatedAt: op.ClientUpdatedAt,
		}
	}

	result, err := s.store.ApplyOps(userID, ops)
	if err != nil {
		logFor(r.Context()).Error("apply ops", "err", err, "device", req.DeviceID)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to apply operations")
		return
	}

	s.metrics.opsPushed.Add(float64(len(result.AppliedOpIDs)))
	for _, c := range result.Conflicts {
		s.metrics.conflicts.WithLabelValues(c.Reason).Inc()
	}
	logFor(r.Context()).Info("push",
		"device", req.DeviceID,
		"applied", len(result.AppliedOpIDs),
		"conflicts", len(result.Conflicts),
	)

	resp := pushResponse{
		AppliedOpIDs:  result.AppliedOpIDs,
		Conflicts:     make([]conflictResponse, len(result.Conflicts)),
		ServerVersion: result.ServerVersion,
	}
	for i, c := range result.Conflicts {
		resp.Conflicts[i] = conflictResponse{
			OpID:          c.OpID,
			Entity:        c.Entity,
			EntityID:      c.EntityID,
			Reason:        c.Reason,
			ServerVersion: c.ServerVersion,
			ServerRecord:  c.ServerRecord,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncPull serves one page of the change log after the client's
// cursor.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid since cursor")
			return
		}
		since = parsed
	}

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > s.config.MaxPullLimit {
		limit = s.config.MaxPullLimit
	}

	changes, err := s.store.ListChanges(userID, since, limit)
	if err != nil {
		logFor(r.Context()).Error("list changes", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list changes")
		return
	}

	resp := pullResponse{
		Changes:     make([]changeResponse, len(changes)),
		NextVersion: since,
		HasMore:     len(changes) == limit,
	}
	for i, c := range changes {
		resp.Changes[i] = changeResponse{
			Version:   c.Version,
			Entity:    c.Entity,
			EntityID:  c.EntityID,
			Action:    c.Action,
			Payload:   c.Payload,
			UpdatedAt: c.UpdatedAt,
		}
		resp.NextVersion = c.Version
	}

	// An empty page still reports the head so clients can fast-forward an
	// empty-log cursor.
	if len(changes) == 0 {
		head, err := s.store.HeadVersion(userID)
		if err != nil {
			logFor(r.Context()).Error("head version", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read head version")
			return
		}
		if head > since {
			resp.NextVersion = head
		}
	}

	s.metrics.pulled.Add(float64(len(changes)))
	writeJSON(w, http.StatusOK, resp)
}
