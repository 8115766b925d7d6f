package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
	"alertbot/internal/jobs"
	logx "alertbot/pkg/logx"
)

const maxBody = 1 << 20

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Fields: map[string]string{"body": "malformed JSON: " + err.Error()}}
	}
	return s.valid.Struct(dst)
}

func fieldErr(field string, err error) error {
	return &ValidationError{Fields: map[string]string{field: err.Error()}}
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id == 0 {
		return 0, fieldErr("user_id", errors.New("must be a non-zero integer"))
	}
	return id, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// ---- alerts ----

type publishRequest struct {
	Kind      string            `json:"kind" validate:"required,oneof=update promo news maintenance event"`
	Body      map[string]string `json:"body" validate:"required,min=1,dive,keys,required,endkeys,required"`
	TTL       string            `json:"ttl" validate:"omitempty,duration"`
	Broadcast bool              `json:"broadcast"`
	Mode      string            `json:"mode" validate:"omitempty,oneof=inbox push"`
	PingTTL   string            `json:"ping_ttl" validate:"omitempty,duration"`
	Force     bool              `json:"force"`
}

type publishResponse struct {
	ID     string            `json:"id"`
	Result *broadcast.Result `json:"result,omitempty"`
}

func (s *Server) publishAlert(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ttl, _ := ParseDuration(req.TTL)
	kind := alerts.Kind(req.Kind)

	if !req.Broadcast {
		id, err := s.d.Alerts.Publish(r.Context(), kind, req.Body, ttl)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, publishResponse{ID: id})
		return
	}

	ping, _ := ParseDuration(req.PingTTL)
	// The fan-out runs to completion even if the client goes away.
	res, err := s.d.Broadcaster.Broadcast(context.WithoutCancel(r.Context()), broadcast.Request{
		Kind:      kind,
		Body:      req.Body,
		Mode:      broadcast.Mode(req.Mode),
		PingTTL:   ping,
		ActiveFor: ttl,
		Force:     req.Force,
		Source:    "http",
	})
	if err != nil {
		if res.AlertID != "" {
			s.log.Warn("broadcast incomplete", logx.String("alert", res.AlertID), logx.Int("sent", res.Sent), logx.Err(err))
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, publishResponse{ID: res.AlertID, Result: &res})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Alerts.ListActive(r.Context(), r.URL.Query().Get("locale"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.d.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ---- jobs ----

type jobRequest struct {
	Due  string            `json:"due" validate:"required"`
	Kind string            `json:"kind" validate:"required,oneof=update promo news maintenance event"`
	Body map[string]string `json:"body" validate:"required,min=1,dive,keys,required,endkeys,required"`
	TTL  string            `json:"ttl" validate:"omitempty,duration"`
	Mode string            `json:"mode" validate:"omitempty,oneof=inbox push"`
}

type jobView struct {
	ID        string            `json:"id"`
	DueAt     time.Time         `json:"due_at"`
	Kind      alerts.Kind       `json:"kind"`
	Body      map[string]string `json:"body"`
	TTL       string            `json:"ttl,omitempty"`
	Mode      broadcast.Mode    `json:"mode,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Firing    bool              `json:"firing"`
}

func viewJob(j jobs.Job) jobView {
	v := jobView{ID: j.ID, DueAt: j.DueAt, Kind: j.Kind, Body: j.Body, Mode: j.Mode, CreatedAt: j.CreatedAt, Firing: j.Claimed()}
	if j.TTL > 0 {
		v.TTL = j.TTL.String()
	}
	return v
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	due, err := jobs.ParseDue(req.Due, s.now(), s.d.Scheduler.Location())
	if err != nil {
		writeErr(w, fieldErr("due", err))
		return
	}
	ttl, _ := ParseDuration(req.TTL)
	id, err := s.d.Scheduler.Enqueue(r.Context(), jobs.Spec{
		DueAt: due,
		Kind:  alerts.Kind(req.Kind),
		Body:  req.Body,
		TTL:   ttl,
		Mode:  broadcast.Mode(req.Mode),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "due_at": due.UTC()})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Scheduler.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]jobView, 0, len(list))
	for _, j := range list {
		out = append(out, viewJob(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.d.Scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err := s.d.Scheduler.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeError(w, http.StatusConflict, "FIRING", "job is already firing")
}

func (s *Server) cancelAllJobs(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Scheduler.CancelAll(r.Context())
	if err != nil && n == 0 {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

// ---- users ----

func (s *Server) userInbox(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	entries, err := s.d.Inbox.Visible(r.Context(), uid, r.URL.Query().Get("locale"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": uid, "alerts": entries})
}

func (s *Server) markAlert(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	alertID := chi.URLParam(r, "alertID")
	switch chi.URLParam(r, "action") {
	case "seen":
		err = s.d.Inbox.MarkSeen(r.Context(), uid, alertID)
	case "ignore":
		err = s.d.Inbox.MarkIgnored(r.Context(), uid, alertID)
	case "delete":
		err = s.d.Inbox.MarkDeleted(r.Context(), uid, alertID)
	default:
		writeErr(w, fieldErr("action", fmt.Errorf("must be one of seen, ignore, delete")))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reminderRequest struct {
	AlertID string `json:"alert_id" validate:"required"`
	Delay   string `json:"delay" validate:"omitempty,duration"`
}

func (s *Server) scheduleReminder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req reminderRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.d.Alerts.Get(r.Context(), req.AlertID); err != nil {
		writeErr(w, err)
		return
	}
	delay, _ := ParseDuration(req.Delay)
	if delay > 0 {
		s.d.Reminders.Schedule(uid, req.AlertID, delay)
	} else {
		delay = s.d.Reminders.ScheduleDefault(uid, req.AlertID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"user_id": uid, "alert_id": req.AlertID, "delay": delay.String()})
}

type subscriptionRequest struct {
	Subscribed *bool `json:"subscribed" validate:"required"`
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	on, err := s.d.Subscriptions.IsSubscribed(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": uid, "subscribed": on})
}

func (s *Server) setSubscription(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req subscriptionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.d.Subscriptions.SetSubscribed(r.Context(), uid, *req.Subscribed); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": uid, "subscribed": *req.Subscribed})
}

// ---- stats ----

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.d.Broadcaster.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weeks": weeks})
}
