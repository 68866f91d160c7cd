package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/realism/config"
	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/orchestrator"
	"github.com/mohammad-safakhou/realism/internal/runtime"
	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"github.com/mohammad-safakhou/realism/internal/worker"
	"go.uber.org/zap"
)

// Records is the read side of the store used by handlers.
type Records interface {
	ListUserJobs(ctx context.Context, userID string) ([]job.Job, error)
	ListSpendEvents(ctx context.Context, jobID string) ([]job.SpendEvent, error)
	GetArtifact(ctx context.Context, jobID string) (*artifact.Artifact, error)
	StreamEvents(ctx context.Context, jobID string, from int64) ([]job.StreamEvent, int64, error)
	HasState(ctx context.Context, jobID string) (bool, error)
}

// Schedules stores the cron spec of persistent jobs.
type Schedules interface {
	SetSchedule(ctx context.Context, jobID, cron string) error
	DeleteSchedule(ctx context.Context, jobID string) error
}

type Classifier interface {
	Classify(ctx context.Context, goal string) job.Type
}

// Verifier runs phone verification.
type Verifier interface {
	SendVerification(ctx context.Context, phone string) (sapiom.Verification, error)
	CheckVerification(ctx context.Context, verificationID, code string) (sapiom.Verification, error)
}

// SpendRules registers a per-job spending cap with the governance API.
type SpendRules interface {
	CreateSpendRule(ctx context.Context, jobID string, budgetUSD float64) (sapiom.SpendRule, error)
}

type StepRunner interface {
	RunStep(ctx context.Context, jobID string, expectedIteration *int) (orchestrator.StepResult, error)
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Jobs       *job.Service
	Records    Records
	Schedules  Schedules
	Sessions   *runtime.Sessions
	Classifier Classifier
	Verifier   Verifier
	SpendRules SpendRules
	Queue      worker.Enqueuer
	Runner     StepRunner
	Metrics    http.Handler
	Logger     *zap.Logger
}

// Server is the realism HTTP API.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	log  *zap.Logger
	echo *echo.Echo
}

func New(cfg config.ServerConfig, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.EventPoll <= 0 {
		cfg.EventPoll = 500 * time.Millisecond
	}
	s := &Server{cfg: cfg, deps: d, log: log}
	s.echo = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := e.Group("/api")
	auth := &AuthHandler{
		Sessions:  s.deps.Sessions,
		Verifier:  s.deps.Verifier,
		DevBypass: s.cfg.DevAuthBypass,
		Logger:    s.log.Named("auth"),
	}
	auth.Register(api.Group("/auth"))

	jobs := &JobsHandler{
		Jobs:       s.deps.Jobs,
		Records:    s.deps.Records,
		Schedules:  s.deps.Schedules,
		Classifier: s.deps.Classifier,
		SpendRules: s.deps.SpendRules,
		Queue:      s.deps.Queue,
		Poll:       s.cfg.EventPoll,
		Logger:     s.log.Named("jobs"),
	}
	internal := &InternalHandler{
		Jobs:    s.deps.Jobs,
		Records: s.deps.Records,
		Runner:  s.deps.Runner,
		Queue:   s.deps.Queue,
		Logger:  s.log.Named("internal"),
	}
	g := api.Group("/jobs")
	internal.Register(g, runtime.InternalAuth(s.cfg.InternalToken))
	jobs.Register(g, s.deps.Sessions.Middleware())
	return e
}

// handleError renders every failure as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request rejected", fields...)
	}
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
