package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"foundersforum/internal/admintoken"
	"foundersforum/internal/ratelimit"
	"foundersforum/internal/util"
	"foundersforum/pkg/domain"
	"foundersforum/services/registration/internal/app"
)

const (
	rateWindow       = time.Minute
	formOverhead     = 1 << 20
	multipartMemory  = 8 << 20
	jsonBodyLimit    = 1 << 16
	defaultListLimit = 100
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	MaxUploadBytes           int64
	CORSOrigin               string
	TrustedProxies           *util.TrustedProxies
	RedisAddr                string
	RedisPassword            string
	SubmitRateLimitPerMinute int
	SearchRateLimitPerMinute int
}

// Server exposes HTTP endpoints for the registration service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigin     string
	trusted        *util.TrustedProxies
	submitLimiter  ratelimit.Limiter
	searchLimiter  ratelimit.Limiter
	adminLimiter   ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	submitLimit := cfg.SubmitRateLimitPerMinute
	if submitLimit <= 0 {
		submitLimit = 5
	}
	searchLimit := cfg.SearchRateLimitPerMinute
	if searchLimit <= 0 {
		searchLimit = 20
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		prefix := "foundersforum:registration:ratelimit:" + name
		limiter, err := ratelimit.New(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	submitLimiter, err := newLimiter("submit", submitLimit)
	if err != nil {
		return nil, err
	}
	searchLimiter, err := newLimiter("search", searchLimit)
	if err != nil {
		return nil, err
	}
	adminLimiter, err := newLimiter("admin", submitLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		corsOrigin:     cfg.CORSOrigin,
		trusted:        cfg.TrustedProxies,
		submitLimiter:  submitLimiter,
		searchLimiter:  searchLimiter,
		adminLimiter:   adminLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("registration", s.trusted, util.WithSecurityHeaders(util.WithCORS(s.corsOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/registrations", s.handleRegistrations)
	s.mux.HandleFunc("/registrations/search", s.handleSearch)

	// admin
	s.mux.HandleFunc("/admin/token", s.handleAdminToken)
	s.mux.Handle("/admin/registrations", s.withAdmin(s.handleAdminRegistrations))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": string(s.app.Mode())})
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.submitLimiter, "too many registration attempts") {
		return
	}
	form, ok := s.readRegistrationForm(w, r)
	if !ok {
		return
	}
	st, err := s.app.Register(r.Context(), form)
	if err != nil {
		writeAppError(w, err, "invalid registration")
		return
	}
	writeJSON(w, http.StatusCreated, registrationResponse{
		Status:       string(st.Phase),
		Registration: st.Registration,
		Confirmation: st.Confirmation,
		Mode:         string(s.app.Mode()),
	})
}

type registrationResponse struct {
	Status       string               `json:"status"`
	Registration *domain.Registration `json:"registration"`
	Confirmation *app.Confirmation    `json:"confirmation"`
	Mode         string               `json:"mode"`
}

func (s *Server) readRegistrationForm(w http.ResponseWriter, r *http.Request) (domain.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return domain.Form{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return domain.Form{}, false
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	form := domain.Form{
		Name:          r.FormValue("name"),
		Phone:         r.FormValue("phone"),
		Email:         r.FormValue("email"),
		Organization:  r.FormValue("organization"),
		Position:      r.FormValue("position"),
		IsFounder:     formBool(r.FormValue("is_founder")),
		CompanyName:   r.FormValue("company_name"),
		IsPitching:    formBool(r.FormValue("is_pitching")),
		PrivacyAgreed: formBool(r.FormValue("privacy_agreed")),
	}
	file, header, err := r.FormFile("pitch_file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return form, true
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid form data")
		return domain.Form{}, false
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return domain.Form{}, false
	}
	content, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return domain.Form{}, false
	}
	form.PitchFile = &domain.PitchFile{Filename: header.Filename, Content: content}
	return form, true
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

type searchRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type searchResponse struct {
	Status string                `json:"status"`
	Items  []domain.Registration `json:"items"`
	Count  int                   `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.searchLimiter, "too many lookup attempts") {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := s.app.Search(r.Context(), req.Name, req.Email)
	if err != nil {
		writeAppError(w, err, "invalid lookup")
		return
	}
	items := st.Results
	if items == nil {
		items = []domain.Registration{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Status: string(st.Phase),
		Items:  items,
		Count:  len(items),
	})
}

type adminTokenRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.app.AdminEnabled() {
		notFound(w, "not found")
		return
	}
	if !s.allowRate(w, r, s.adminLimiter, "too many login attempts") {
		return
	}
	var req adminTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, expires, err := s.app.IssueAdminToken(req.Password)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("admin login rejected", "client_ip", util.ClientIP(r, s.trusted))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) withAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.app.AdminEnabled() {
			notFound(w, "not found")
			return
		}
		token, ok := admintoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.app.AuthorizeAdmin(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleAdminRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	regs, err := s.app.ListRegistrations(r.Context(), limit)
	if err != nil {
		writeAppError(w, err, "invalid request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": regs,
		"count": len(regs),
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientKey(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// writeAppError maps workflow errors onto HTTP responses. invalidMsg names
// the validation failure for the calling endpoint.
func writeAppError(w http.ResponseWriter, err error, invalidMsg string) {
	var (
		ve *app.ValidationError
		se *app.StoreError
	)
	switch {
	case errors.As(err, &ve):
		writeErrorFields(w, http.StatusBadRequest, invalidMsg, ve.Fields)
	case errors.As(err, &se):
		writeError(w, http.StatusBadGateway, se.UserMessage())
	case errors.Is(err, app.ErrSubmitInProgress), errors.Is(err, app.ErrSearchInProgress), errors.Is(err, app.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "request already in progress")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Fields    []string `json:"fields,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorFields(w, status, msg, nil)
}

func writeErrorFields(w http.ResponseWriter, status int, msg string, fields []string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForRegistration(status, msg),
		Fields:    fields,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForRegistration(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "invalid registration":
		return "REGISTRATION_INVALID"
	case message == "invalid lookup":
		return "LOOKUP_INVALID"
	case message == "invalid form data":
		return "REGISTRATION_INVALID_FORM"
	case message == "file too large":
		return "REGISTRATION_FILE_TOO_LARGE"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "invalid limit":
		return "ADMIN_INVALID_LIMIT"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "request already in progress":
		return "REQUEST_IN_PROGRESS"
	case strings.HasPrefix(message, "too many"):
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusBadGateway:
		return "STORE_UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
