package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/kubev2v/doctrack/internal/auth"
	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/progress"
	"go.uber.org/zap"
)

// Tracker is what the REST surface needs from the Service.
type Tracker interface {
	Status() poller.Status
	Identity() (auth.User, bool)
	SetVisible(visible bool)
	SignIn(ctx context.Context, credential string) (auth.User, error)
	Track(ctx context.Context, jobID string) (uint64, error)
	Cancel(ctx context.Context, jobID string) error
}

func RegisterApi(router chi.Router, tracker Tracker) {
	router.Get("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, VersionReply{Version: version})
	})
	router.Get("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, newStatusReply(tracker))
	})
	router.Post("/api/v1/login", func(w http.ResponseWriter, r *http.Request) {
		loginHandler(tracker, w, r)
	})
	router.Put("/api/v1/visibility", func(w http.ResponseWriter, r *http.Request) {
		visibilityHandler(tracker, w, r)
	})
	router.Post("/api/v1/jobs/{id}/track", func(w http.ResponseWriter, r *http.Request) {
		trackHandler(tracker, w, r)
	})
	router.Post("/api/v1/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancelHandler(tracker, w, r)
	})
}

type StatusReply struct {
	State     poller.State     `json:"state"`
	SessionID uint64           `json:"sessionId,omitempty"`
	JobID     string           `json:"jobId,omitempty"`
	Visible   bool             `json:"visible"`
	SignedIn  bool             `json:"signedIn"`
	User      string           `json:"user,omitempty"`
	Last      *progress.Update `json:"last,omitempty"`
}

type VersionReply struct {
	Version string `json:"version"`
}

type TrackReply struct {
	SessionID uint64 `json:"sessionId"`
	JobID     string `json:"jobId"`
}

type LoginRequest struct {
	Token string `json:"token"`
}

type LoginReply struct {
	User     string `json:"user"`
	SignedIn bool   `json:"signedIn"`
}

type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

type ErrorReply struct {
	HTTPStatusCode int    `json:"-"`
	Message        string `json:"message"`
}

func (s StatusReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (v VersionReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (t TrackReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

func (l LoginReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newStatusReply(tracker Tracker) StatusReply {
	st := tracker.Status()
	reply := StatusReply{
		State:     st.State,
		SessionID: st.SessionID,
		JobID:     st.JobID,
		Visible:   st.Visible,
		Last:      st.Last,
	}
	if u, ok := tracker.Identity(); ok {
		reply.SignedIn = true
		reply.User = u.DisplayName()
	}
	return reply
}

func renderError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	_ = render.Render(w, r, ErrorReply{HTTPStatusCode: code, Message: msg})
}

func loginHandler(tracker Tracker, w http.ResponseWriter, r *http.Request) {
	req := LoginRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := tracker.SignIn(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) || errors.Is(err, auth.ErrExpired) {
			renderError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		zap.S().Named("rest").Errorw("failed to sign in", "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	_ = render.Render(w, r, LoginReply{User: u.DisplayName(), SignedIn: true})
}

func visibilityHandler(tracker Tracker, w http.ResponseWriter, r *http.Request) {
	req := VisibilityRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Visible == nil {
		renderError(w, r, http.StatusBadRequest, "visible is required")
		return
	}

	tracker.SetVisible(*req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func trackHandler(tracker Tracker, w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "id"))
	if jobID == "" {
		renderError(w, r, http.StatusBadRequest, "job id is required")
		return
	}

	sessionID, err := tracker.Track(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrNotSignedIn) {
			renderError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		zap.S().Named("rest").Errorw("failed to track job", "job", jobID, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	_ = render.Render(w, r, TrackReply{SessionID: sessionID, JobID: jobID})
}

func cancelHandler(tracker Tracker, w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "id"))
	if jobID == "" {
		renderError(w, r, http.StatusBadRequest, "job id is required")
		return
	}

	if err := tracker.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, poller.ErrUnauthorized) || errors.Is(err, client.ErrNoCredentials) {
			renderError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		renderError(w, r, http.StatusBadGateway, err.Error())
		return
	}

	zap.S().Named("rest").Infof("job %s cancelled", jobID)
	w.WriteHeader(http.StatusNoContent)
}
