// Package api exposes the admin HTTP surface: health, Prometheus metrics,
// scheduler job control, and an ad-hoc mail dispatch endpoint. Routing
// follows the teacher's plain net/http.ServeMux (no router framework —
// neither the teacher nor any sibling example pulls one in for a surface
// this small) with the same CORS-then-log ServeHTTP wrapper.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/urlcheck/internal/metrics"
	"github.com/pilot-net/urlcheck/internal/notifier"
	"github.com/pilot-net/urlcheck/internal/report"
	"github.com/pilot-net/urlcheck/internal/scheduler"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// Server is the admin HTTP API.
type Server struct {
	sched      *scheduler.Scheduler
	metricsReg *metrics.Registry
	reportGen  *report.Generator
	mailSender *notifier.MailSender
	logger     *slog.Logger
	mux        *http.ServeMux
	auth       AdminAuthConfig
}

// AdminAuthConfig controls bearer-token auth for the admin endpoints
// (/job/opt, /sender/mail, /report). GET /health and GET /metrics are never
// gated.
type AdminAuthConfig struct {
	Enabled   bool
	TokenHash string // bcrypt hash of the expected bearer token
	Logger    *slog.Logger
}

// NewServer builds the admin API. mailSender may be nil if mail is disabled.
func NewServer(sched *scheduler.Scheduler, metricsReg *metrics.Registry, reportGen *report.Generator, mailSender *notifier.MailSender, auth AdminAuthConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sched:      sched,
		metricsReg: metricsReg,
		reportGen:  reportGen,
		mailSender: mailSender,
		logger:     logger.With("component", "api"),
		mux:        http.NewServeMux(),
		auth:       auth,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler, applying CORS headers and request
// logging ahead of routing — mirroring the teacher's API server wrapper.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /job/opt", s.requireAdminAuth(s.handleJobOpt))
	s.mux.HandleFunc("POST /sender/mail", s.requireAdminAuth(s.handleSenderMail))
	s.mux.HandleFunc("GET /report", s.requireAdminAuth(s.handleReport))
}

// handleReport triggers an on-demand classification pass, independent of
// the report generator's own ticker — useful for an operator who doesn't
// want to wait for the next scheduled report_interval_hours cycle.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reportGen == nil {
		writeError(w, http.StatusServiceUnavailable, "report generator not configured")
		return
	}
	classifications, err := s.reportGen.Classify(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":         report.FormatSummary(classifications),
		"classifications": classifications,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsReg == nil {
		http.Error(w, "metrics not configured", http.StatusServiceUnavailable)
		return
	}
	promhttp.HandlerFor(s.metricsReg.Registerer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

type healthResponse struct {
	Status    string          `json:"status"`
	Time      string          `json:"time"`
	Scheduler schedulerHealth `json:"scheduler"`
}

type schedulerHealth struct {
	Initialized bool               `json:"initialized"`
	Running     bool               `json:"running"`
	Jobs        []scheduler.JobInfo `json:"jobs"`
	Process     metrics.ProcessHealth `json:"process,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.sched != nil {
		resp.Scheduler = schedulerHealth{
			Initialized: true,
			Running:     s.sched.IsRunning(),
			Jobs:        s.sched.ListJobs(),
		}
	}
	if s.metricsReg != nil {
		resp.Scheduler.Process = s.metricsReg.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

type jobOptRequest struct {
	Action  string               `json:"action"`
	Job     *types.TaskExpectation `json:"job,omitempty"`
	JobName string               `json:"job_name,omitempty"`
}

func (s *Server) handleJobOpt(w http.ResponseWriter, r *http.Request) {
	var req jobOptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	switch req.Action {
	case "list_jobs":
		writeJSON(w, http.StatusOK, s.sched.ListJobs())
	case "add_job":
		if req.Job == nil {
			writeError(w, http.StatusBadRequest, "job is required for add_job")
			return
		}
		if err := req.Job.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.sched.AddTask(r.Context(), *req.Job)
		writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
	case "remove_job":
		if req.JobName == "" {
			writeError(w, http.StatusBadRequest, "job_name is required for remove_job")
			return
		}
		s.sched.RemoveTask(req.JobName)
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	case "stop_job":
		if req.JobName == "" {
			writeError(w, http.StatusBadRequest, "job_name is required for stop_job")
			return
		}
		s.sched.StopJob(req.JobName)
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	case "resume_job":
		if req.JobName == "" {
			writeError(w, http.StatusBadRequest, "job_name is required for resume_job")
			return
		}
		if !s.sched.ResumeJob(req.JobName) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
	case "shut_sched":
		s.sched.ShutSched()
		writeJSON(w, http.StatusOK, map[string]string{"status": "scheduler stopped"})
	case "start_sched":
		s.sched.StartSched()
		writeJSON(w, http.StatusOK, map[string]string{"status": "scheduler started"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

type senderMailRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (s *Server) handleSenderMail(w http.ResponseWriter, r *http.Request) {
	if s.mailSender == nil {
		writeError(w, http.StatusServiceUnavailable, "mail sender not configured")
		return
	}
	var req senderMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.To) == 0 || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "to and subject are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.mailSender.SendRaw(ctx, req.To, req.Subject, req.Body); err != nil {
		writeError(w, http.StatusBadGateway, "mail dispatch failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
