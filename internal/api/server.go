package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"timedsend/internal/domain"
	"timedsend/internal/resolver"
	"timedsend/internal/store"
)

// Driver is the subset of the driver client the API needs.
type Driver interface {
	Ping(ctx context.Context) error
	Ready(ctx context.Context) (bool, error)
	SendMessage(ctx context.Context, contact, message string) error
	SendPoll(ctx context.Context, contact, question string, options []string) (string, error)
}

type ContactResolver interface {
	Resolve(ctx context.Context, contact string) resolver.Result
}

type Server struct {
	r        *chi.Mux
	repo     *store.Repository
	driver   Driver
	resolver ContactResolver
	log      zerolog.Logger
	now      func() time.Time
}

func NewServer(repo *store.Repository, drv Driver, res ContactResolver, log zerolog.Logger) http.Handler {
	return NewServerWithDebug(repo, drv, res, log, false)
}

func NewServerWithDebug(repo *store.Repository, drv Driver, res ContactResolver, log zerolog.Logger, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	log = log.With().Str("component", "api").Logger()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)

	s := &Server{r: r, repo: repo, driver: drv, resolver: res, log: log, now: time.Now}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/status", s.status)
	r.Get("/api/schedules", s.listSchedules)
	r.Post("/api/schedules", s.createSchedule)
	r.Post("/api/schedules/restore", s.restoreSchedule)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)
	r.Post("/api/send", s.sendNow)

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	drv := "ok"
	if err := s.driver.Ping(r.Context()); err != nil {
		drv = "down"
	}
	writeJSON(w, http.StatusOK, map[string]string{"api": "ok", "driver": drv})
}

// optionList accepts poll options as a JSON array or as one comma separated
// string.
type optionList []string

func (o *optionList) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		*o = domain.SplitOptions(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, strings.TrimSpace(v))
	}
	*o = out
	return nil
}

type scheduleReq struct {
	Type      domain.Kind       `json:"type"`
	Contact   string            `json:"contact"`
	Message   string            `json:"message"`
	Question  string            `json:"question"`
	Options   optionList        `json:"options"`
	Time      string            `json:"time"`
	Recurring domain.Recurrence `json:"recurring"`
}

func (req scheduleReq) schedule(now time.Time) domain.Schedule {
	if req.Type == domain.KindPoll {
		return domain.NewPoll(req.Contact, req.Question, req.Options, req.Time, req.Recurring, now)
	}
	s := domain.NewMessage(req.Contact, req.Message, req.Time, req.Recurring, now)
	s.Kind = req.Type
	return s
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	sched, err := s.repo.Add(r.Context(), req.schedule(s.now()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("schedule_id", sched.ID).Str("contact", sched.Contact).
		Str("type", string(sched.Kind)).Str("time", sched.Time).Msg("schedule added")
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.repo.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	writeJSON(w, 200, schedules)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, sched)
}

// removal is returned by DELETE and accepted by restore to undo it.
type removal struct {
	Schedule domain.Schedule `json:"schedule"`
	Position int             `json:"position"`
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	sched, pos, err := s.repo.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("schedule_id", sched.ID).Int("position", pos).Msg("schedule deleted")
	writeJSON(w, 200, removal{Schedule: sched, Position: pos})
}

func (s *Server) restoreSchedule(w http.ResponseWriter, r *http.Request) {
	var req removal
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.repo.Restore(r.Context(), req.Schedule, req.Position); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("schedule_id", req.Schedule.ID).Msg("schedule restored")
	writeJSON(w, 200, req.Schedule)
}

type sendResp struct {
	Sent    bool   `json:"sent"`
	Contact string `json:"contact"`
	Method  string `json:"method,omitempty"`
}

// sendNow delivers immediately without touching the store.
func (s *Server) sendNow(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	now := s.now()
	if req.Time == "" {
		req.Time = domain.Clock(now)
	}
	sched := req.schedule(now)
	if err := domain.Validate(sched); err != nil {
		s.writeError(w, err)
		return
	}

	ready, err := s.driver.Ready(r.Context())
	if err != nil || !ready {
		http.Error(w, "driver not ready", http.StatusServiceUnavailable)
		return
	}

	res := s.resolver.Resolve(r.Context(), sched.Contact)
	out := sendResp{Contact: res.Address}
	switch sched.Kind {
	case domain.KindPoll:
		out.Method, err = s.driver.SendPoll(r.Context(), res.Address, sched.Question, sched.Options)
	default:
		err = s.driver.SendMessage(r.Context(), res.Address, sched.Message)
	}
	log := s.log.With().Str("contact", sched.Contact).Str("type", string(sched.Kind)).Logger()
	if err != nil {
		log.Error().Err(err).Msg("send now failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	log.Info().Str("address", res.Address).Msg("sent now")
	out.Sent = true
	writeJSON(w, 200, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSchedule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrLockTimeout):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), 500)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
