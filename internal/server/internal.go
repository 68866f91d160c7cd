package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/orchestrator"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/mohammad-safakhou/realism/internal/worker"
	"go.uber.org/zap"
)

// InternalHandler serves the token-protected step and trigger endpoints.
// Replies are always 200 so external schedulers do not retry.
type InternalHandler struct {
	Jobs    *job.Service
	Records Records
	Runner  StepRunner
	Queue   worker.Enqueuer
	Logger  *zap.Logger
}

type stepRequest struct {
	JobID             string `json:"jobId"`
	ExpectedIteration *int   `json:"expectedIteration"`
}

// stepResponse carries the step result fields inline when a step ran.
type stepResponse struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	*orchestrator.StepResult
}

func (h *InternalHandler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/worker", h.step, auth)
	g.POST("/webhook", h.trigger, auth)
}

func fail(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, stepResponse{Error: msg})
}

// step runs one step of a job. Without expectedIteration the step is not
// claimed, which lets an operator resume a job whose continuation was lost.
func (h *InternalHandler) step(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, "Invalid body")
	}
	if req.JobID == "" {
		return fail(c, "jobId required")
	}
	ctx := c.Request().Context()
	j, err := h.Jobs.Get(ctx, req.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, "Job not found")
	}
	if err != nil {
		return err
	}
	if !j.Status.Runnable() {
		return c.JSON(http.StatusOK, stepResponse{OK: true, Skipped: true})
	}
	res, err := h.Runner.RunStep(ctx, j.ID, req.ExpectedIteration)
	if err != nil {
		h.Logger.Error("step failed", zap.String("job_id", j.ID), zap.Error(err))
		return fail(c, err.Error())
	}
	return c.JSON(http.StatusOK, stepResponse{
		OK:         true,
		Skipped:    res.Outcome == orchestrator.OutcomeSkipped,
		StepResult: &res,
	})
}

// trigger starts a new run of a persistent job.
func (h *InternalHandler) trigger(c echo.Context) error {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, "Invalid body")
	}
	if req.JobID == "" {
		return fail(c, "jobId required")
	}
	ctx := c.Request().Context()
	j, err := h.Jobs.Get(ctx, req.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, "Job not found")
	}
	if err != nil {
		return err
	}
	if !j.Persistent() {
		return fail(c, "Not a persistent job")
	}
	if !j.Status.Runnable() {
		return c.JSON(http.StatusOK, stepResponse{OK: true, Skipped: true})
	}
	log := h.Logger.With(zap.String("job_id", j.ID))
	inFlight, err := h.Records.HasState(ctx, j.ID)
	if err != nil {
		log.Warn("checkpoint lookup failed", zap.Error(err))
	}
	if inFlight {
		log.Info("run already in progress")
		return c.JSON(http.StatusOK, stepResponse{OK: true, Skipped: true})
	}
	if err := h.Queue.Enqueue(ctx, j.ID, 0, streams.TriggerWebhook); err != nil {
		log.Error("enqueue triggered run failed", zap.Error(err))
	}
	return c.JSON(http.StatusOK, stepResponse{OK: true})
}
