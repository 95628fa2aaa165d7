// Package httpadapter exposes the submission, polling, results and admin
// endpoints over chi.
package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/sirupsen/logrus"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
)

// Liveness reports whether the in-process worker pool is running.
type Liveness interface {
	Alive() bool
}

type Deps struct {
	Submitter ports.Submitter
	Websites  ports.WebsiteRepository
	Broker    ports.JobBroker
	Stats     ports.Stats
	// Worker is nil when no pool runs in this process.
	Worker               Liveness
	AnalyzeRatePerMinute int
}

type Server struct {
	deps    Deps
	limiter *ipLimiter
	log     logrus.FieldLogger
}

func New(deps Deps, log logrus.FieldLogger) *Server {
	return &Server{deps: deps, limiter: newIPLimiter(deps.AnalyzeRatePerMinute), log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.With(s.limiter.middleware).Post("/analyze", s.handle(s.postAnalyze))
	r.Get("/jobs/{jobId}", s.handle(s.getJob))
	r.Get("/websites", s.handle(s.listWebsites))
	r.Get("/websites/{id}", s.handle(s.getWebsite))

	r.Route("/admin", func(r chi.Router) {
		r.Get("/queue-stats", s.handle(s.queueStats))
		r.Get("/analysis-stats", s.handle(s.analysisStats))
		r.Get("/health", s.handle(s.health))
		r.Get("/metrics", s.handle(s.metrics))
		r.Post("/queue/pause", s.handle(s.pauseQueue))
		r.Post("/queue/resume", s.handle(s.resumeQueue))
	})
	return r
}

type handlerFunc func(r *http.Request) (response, error)

// handle writes the handler's response, or maps its error to a status code.
// Internal error text never reaches the client.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h(r)
		if err != nil {
			resp = s.errorResponse(r, err)
		}
		if err := resp.visit(w); err != nil {
			s.log.WithError(err).WithField("path", r.URL.Path).Warn("write response")
		}
	}
}

func (s *Server) errorResponse(r *http.Request, err error) response {
	var (
		verr *domain.ValidationError
		herr *httpError
	)
	switch {
	case errors.As(err, &verr):
		return jsonResponse{status: http.StatusBadRequest, body: errorBody{Error: verr.Msg}}
	case errors.As(err, &herr):
		return jsonResponse{status: herr.code, body: errorBody{Error: herr.msg}}
	case errors.Is(err, domain.ErrNotFound):
		return jsonResponse{status: http.StatusNotFound, body: errorBody{Error: "Not found"}}
	}
	s.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
	return jsonResponse{status: http.StatusInternalServerError, body: errorBody{Error: "Internal server error"}}
}

func (s *Server) postAnalyze(r *http.Request) (response, error) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &httpError{code: http.StatusBadRequest, msg: "Invalid JSON body"}
	}
	id, err := s.deps.Submitter.Submit(r.Context(), req.URL, map[string]string{
		"ip":        clientIP(r),
		"userAgent": r.UserAgent(),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse{status: http.StatusAccepted, body: analyzeAccepted{JobID: id, Status: "queued"}}, nil
}

func (s *Server) getJob(r *http.Request) (response, error) {
	var jobID string
	if err := bindPath(r, "jobId", &jobID); err != nil {
		return nil, err
	}
	job, err := s.deps.Submitter.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &httpError{code: http.StatusNotFound, msg: "Job not found"}
		}
		return nil, err
	}
	return jsonResponse{status: http.StatusOK, body: jobStatusFrom(job)}, nil
}

func (s *Server) listWebsites(r *http.Request) (response, error) {
	recs, err := s.deps.Websites.List(r.Context())
	if err != nil {
		return nil, err
	}
	out := websiteList{Success: true, Count: len(recs), Data: make([]website, 0, len(recs))}
	for _, rec := range recs {
		out.Data = append(out.Data, websiteFrom(rec))
	}
	return jsonResponse{status: http.StatusOK, body: out}, nil
}

func (s *Server) getWebsite(r *http.Request) (response, error) {
	var id string
	if err := bindPath(r, "id", &id); err != nil {
		return nil, err
	}
	rec, err := s.deps.Websites.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &httpError{code: http.StatusNotFound, msg: "Website not found"}
		}
		return nil, err
	}
	return jsonResponse{status: http.StatusOK, body: websiteOne{Success: true, Data: websiteFrom(rec)}}, nil
}

func (s *Server) queueStats(r *http.Request) (response, error) {
	counts, err := s.deps.Broker.Counts(r.Context())
	if err != nil {
		return nil, err
	}
	return jsonResponse{status: http.StatusOK, body: counts}, nil
}

func (s *Server) analysisStats(r *http.Request) (response, error) {
	st, err := s.deps.Stats.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return jsonResponse{status: http.StatusOK, body: analysisStatsFrom(st)}, nil
}

// health reports 503 when either the broker or the store is unreachable.
func (s *Server) health(r *http.Request) (response, error) {
	ctx := r.Context()
	h := health{Status: "healthy", Broker: "connected", Store: "connected", WorkerAlive: s.workerAlive()}
	if err := s.deps.Broker.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("broker ping failed")
		h.Broker = "disconnected"
	}
	if err := s.deps.Websites.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("store ping failed")
		h.Store = "disconnected"
	}
	if h.Broker == "connected" {
		paused, err := s.deps.Broker.Paused(ctx)
		if err != nil {
			h.Broker = "disconnected"
		}
		h.QueuePaused = paused
	}
	status := http.StatusOK
	if h.Broker != "connected" || h.Store != "connected" {
		h.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	return jsonResponse{status: status, body: h}, nil
}

func (s *Server) metrics(r *http.Request) (response, error) {
	ctx := r.Context()
	counts, err := s.deps.Broker.Counts(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.deps.Stats.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := s.deps.Broker.Paused(ctx)
	if err != nil {
		return nil, err
	}
	return metricsResponse{families: metricFamilies(counts, st, s.workerAlive(), paused)}, nil
}

func (s *Server) pauseQueue(r *http.Request) (response, error) {
	if err := s.deps.Broker.Pause(r.Context()); err != nil {
		return nil, err
	}
	s.log.Info("queue paused")
	return jsonResponse{status: http.StatusOK, body: queueState{Paused: true}}, nil
}

func (s *Server) resumeQueue(r *http.Request) (response, error) {
	if err := s.deps.Broker.Resume(r.Context()); err != nil {
		return nil, err
	}
	s.log.Info("queue resumed")
	return jsonResponse{status: http.StatusOK, body: queueState{Paused: false}}, nil
}

func (s *Server) workerAlive() bool {
	return s.deps.Worker != nil && s.deps.Worker.Alive()
}

// bindPath decodes a simple-style path parameter the way generated servers do.
func bindPath(r *http.Request, name string, dest *string) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return &httpError{code: http.StatusBadRequest, msg: "Invalid format for parameter " + name}
	}
	return nil
}
