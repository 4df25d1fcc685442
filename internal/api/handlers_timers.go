package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// anonymousUser stands in when a read request carries no identity. It can
// never match an owner id, so anonymous callers always see the viewer role.
const anonymousUser = "anonymous"

type createTimerRequest struct {
	TargetTimeSeconds int64  `json:"targetTimeSeconds"`
	OwnerID           string `json:"ownerId"`
}

type changeTargetRequest struct {
	NewTargetTime time.Time `json:"newTargetTime"`
	ChangedBy     string    `json:"changedBy"`
}

type saveTimestampRequest struct {
	UserID     string            `json:"userId"`
	TargetTime time.Time         `json:"targetTime"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type completeTimerRequest struct {
	RequestedBy string `json:"requestedBy"`
}

// userIDParam resolves the optional ?userId= query parameter.
func userIDParam(r *http.Request) string {
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	return anonymousUser
}

func (s *Server) handleCreateTimer(w http.ResponseWriter, r *http.Request) {
	var req createTimerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	view, err := s.timers.Create(r.Context(), req.TargetTimeSeconds, req.OwnerID)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	view, err := s.timers.Get(r.Context(), chi.URLParam(r, "timerID"), userIDParam(r))
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetSharedTimer(w http.ResponseWriter, r *http.Request) {
	view, err := s.timers.GetByShareToken(r.Context(), chi.URLParam(r, "shareToken"), userIDParam(r))
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChangeTarget(w http.ResponseWriter, r *http.Request) {
	var req changeTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.NewTargetTime.IsZero() {
		writeBadRequest(w, "newTargetTime is required")
		return
	}

	view, err := s.timers.ChangeTarget(r.Context(), chi.URLParam(r, "timerID"), req.NewTargetTime, req.ChangedBy)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSaveTimestamp(w http.ResponseWriter, r *http.Request) {
	var req saveTimestampRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeBadRequest(w, "userId is required")
		return
	}

	mark, err := s.timers.SaveTimestamp(r.Context(), chi.URLParam(r, "timerID"), req.UserID, req.TargetTime, req.Metadata)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mark)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	marks, err := s.timers.History(r.Context(), chi.URLParam(r, "timerID"))
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	marks, err := s.timers.UserHistory(r.Context(), chi.URLParam(r, "timerID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleCompleteTimer(w http.ResponseWriter, r *http.Request) {
	// Body is optional; an empty requester can never match an owner.
	var req completeTimerRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}
	if req.RequestedBy == "" {
		req.RequestedBy = userIDParam(r)
	}

	timerID := chi.URLParam(r, "timerID")
	view, err := s.timers.ForceComplete(r.Context(), timerID, req.RequestedBy)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}

	s.logger.Info().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldUserID, req.RequestedBy).
		Str(log.FieldEvent, "api.timer_force_completed").
		Msg("timer completed on request")
	writeJSON(w, http.StatusOK, view)
}
