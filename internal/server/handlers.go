package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JohanCodinha/worksync/internal/access"
	"github.com/JohanCodinha/worksync/internal/auth"
	"github.com/JohanCodinha/worksync/internal/leave"
	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

type leaveRequest struct {
	UserName string  `json:"user_name,omitempty"`
	Year     int     `json:"year,omitempty"`
	Days     float64 `json:"days"`
}

type balanceResponse struct {
	UserName      string  `json:"user_name"`
	Year          int     `json:"year"`
	TotalDays     float64 `json:"total_days"`
	CarriedOver   float64 `json:"carried_over"`
	UsedDays      float64 `json:"used_days"`
	PendingDays   float64 `json:"pending_days"`
	RemainingDays float64 `json:"remaining_days"`
}

type runResponse struct {
	ID             int64      `json:"id"`
	SyncType       string     `json:"sync_type"`
	Status         string     `json:"status"`
	ItemsProcessed int        `json:"items_processed"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type worklogResponse struct {
	IssueKey   string  `json:"issue_key"`
	UserName   string  `json:"user_name"`
	ProjectKey string  `json:"project_key"`
	Hours      float64 `json:"hours"`
	WorkDate   string  `json:"work_date"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		logger.Error("server: health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("database unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin handles POST /api/v1/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.db.GetUser(r.Context(), req.UserName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("server: login lookup for %s failed: %v", req.UserName, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	ok := false
	if user != nil && user.IsActive {
		ok, err = auth.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil {
			logger.Warn("server: stored hash for %s is unusable: %v", user.UserName, err)
		}
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid credentials"))
		return
	}

	token, err := auth.IssueToken(user.UserName, user.Role, s.opts.JWTSecret, s.opts.JWTExpiry)
	if err != nil {
		logger.Error("server: failed to issue token: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.opts.JWTExpiry).UTC(),
		Role:      user.Role,
	})
}

// handleSync handles POST /api/v1/sync/{type}. Failures are logged in full
// and reported to the caller generically.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var (
		result any
		err    error
	)

	switch chi.URLParam(r, "type") {
	case store.SyncTypeWorklogs:
		days, perr := intParam(r, "window_days", s.opts.WindowDays)
		if perr != nil || days < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse("window_days must be a positive integer"))
			return
		}
		result, err = s.engine.Worklogs.Sync(r.Context(), days)
	case store.SyncTypeUsers:
		result, err = s.engine.Users.Sync(r.Context())
	case store.SyncTypeProjects:
		result, err = s.engine.Projects.Sync(r.Context())
	default:
		writeJSON(w, http.StatusNotFound, errorResponse("unknown sync type"))
		return
	}

	if err != nil {
		logger.Error("server: %s sync failed: %v", chi.URLParam(r, "type"), err)
		writeJSON(w, http.StatusBadGateway, errorResponse("sync failed"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListRuns handles GET /api/v1/sync/runs?type=&limit=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse("limit must be a positive integer"))
		return
	}

	runs, err := s.db.ListSyncRuns(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		logger.Error("server: list sync runs: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:             run.ID,
			SyncType:       run.SyncType,
			Status:         run.Status,
			ItemsProcessed: run.ItemsProcessed,
			ErrorMessage:   run.ErrorMessage,
			StartedAt:      run.StartedAt,
			CompletedAt:    run.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLeaveBalance handles GET /api/v1/leave/balance?user=&year=.
// Reading another user's balance needs the approve capability.
func (s *Server) handleLeaveBalance(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	year, err := intParam(r, "year", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("year must be an integer"))
		return
	}

	target := caller
	if name := r.URL.Query().Get("user"); name != "" && name != caller.UserName {
		if !access.Can(*caller, access.ApproveLeave) {
			writeJSON(w, http.StatusForbidden, errorResponse("forbidden"))
			return
		}
		if target = s.lookupUser(w, r, name); target == nil {
			return
		}
	}

	b, err := s.ledger.GetOrCreate(r.Context(), target.ID, year)
	if err != nil {
		s.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(target.UserName, b))
}

// handleLeaveRequest handles POST /api/v1/leave/request for the caller.
func (s *Server) handleLeaveRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req leaveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := s.ledger.Request(r.Context(), caller.ID, req.Year, req.Days, caller.UserName)
	if err != nil {
		s.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(caller.UserName, b))
}

// handleLeaveApprove handles POST /api/v1/leave/approve.
func (s *Server) handleLeaveApprove(w http.ResponseWriter, r *http.Request) {
	s.handleLeaveDecision(w, r, s.ledger.Approve)
}

// handleLeaveReject handles POST /api/v1/leave/reject.
func (s *Server) handleLeaveReject(w http.ResponseWriter, r *http.Request) {
	s.handleLeaveDecision(w, r, s.ledger.Reject)
}

type leaveDecision func(ctx context.Context, userID int64, year int, days float64, changedBy string) (*store.LeaveBalance, error)

func (s *Server) handleLeaveDecision(w http.ResponseWriter, r *http.Request, decide leaveDecision) {
	caller, _ := userFromContext(r.Context())

	var req leaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_name is required"))
		return
	}

	target := s.lookupUser(w, r, req.UserName)
	if target == nil {
		return
	}

	b, err := decide(r.Context(), target.ID, req.Year, req.Days, caller.UserName)
	if err != nil {
		s.writeLeaveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(target.UserName, b))
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request, name string) *store.LocalUser {
	u, err := s.db.GetUser(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse("user not found"))
		return nil
	}
	if err != nil {
		logger.Error("server: lookup user %s: %v", name, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return nil
	}
	return u
}

func (s *Server) writeLeaveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leave.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, errorResponse("insufficient leave balance"))
	case errors.Is(err, leave.ErrInvalidChange):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	default:
		logger.Error("server: leave balance update failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}

func toBalance(userName string, b *store.LeaveBalance) balanceResponse {
	return balanceResponse{
		UserName:      userName,
		Year:          b.Year,
		TotalDays:     b.TotalDays,
		CarriedOver:   b.CarriedOver,
		UsedDays:      b.UsedDays,
		PendingDays:   b.PendingDays,
		RemainingDays: b.RemainingDays(),
	}
}

// handleWorkload handles GET /api/v1/reports/workload?from=YYYY-MM&to=YYYY-MM.
func (s *Server) handleWorkload(w http.ResponseWriter, r *http.Request) {
	month := time.Now().Format("2006-01")
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" {
		from = month
	}
	if to == "" {
		to = from
	}

	rows, err := s.reports.WorkloadAnalysis(r.Context(), from, to)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleMissingWorklogs handles GET /api/v1/reports/missing-worklogs?days=.
func (s *Server) handleMissingWorklogs(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil || days < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse("days must be a positive integer"))
		return
	}

	alerts, err := s.reports.MissingWorklogAlerts(r.Context(), days)
	if err != nil {
		logger.Error("server: missing worklog report: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleShadowWork handles GET /api/v1/reports/shadow-work?from=&to= (dates).
func (s *Server) handleShadowWork(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(store.DateLayout, v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("from must be YYYY-MM-DD"))
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(store.DateLayout, v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("to must be YYYY-MM-DD"))
			return
		}
	}

	worklogs, err := s.reports.ShadowWork(r.Context(), from, to)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	out := make([]worklogResponse, 0, len(worklogs))
	for _, wl := range worklogs {
		out = append(out, worklogResponse{
			IssueKey:   wl.IssueKey,
			UserName:   wl.UserName,
			ProjectKey: wl.ProjectKey,
			Hours:      wl.Hours,
			WorkDate:   wl.WorkDate.Format(store.DateLayout),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
