package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/budget"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/runtime"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/mohammad-safakhou/realism/internal/worker"
	"go.uber.org/zap"
)

const (
	maxGoalRunes      = 500
	msgCreateFailed   = "Failed to create job."
	msgNeedsCadence   = "This goal looks like it needs a schedule. Choose daily or weekly."
	msgUnauthorized   = "Unauthorized"
	msgNotFound       = "Not found"
	msgForbidden      = "Forbidden"
	msgInvalidRequest = "Invalid request body."
)

// JobsHandler serves the session-scoped job API.
type JobsHandler struct {
	Jobs       *job.Service
	Records    Records
	Schedules  Schedules
	Classifier Classifier
	SpendRules SpendRules
	Queue      worker.Enqueuer
	Poll       time.Duration
	Logger     *zap.Logger
}

type createJobRequest struct {
	Goal    string   `json:"goal"`
	Budget  *float64 `json:"budget"`
	Cadence *string  `json:"cadence"`
}

type createJobResponse struct {
	JobID string   `json:"jobId"`
	Type  job.Type `json:"type"`
}

type jobDetail struct {
	Job         job.Job            `json:"job"`
	SpendEvents []job.SpendEvent   `json:"spendEvents"`
	Artifact    *artifact.Artifact `json:"artifact"`
}

func (h *JobsHandler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("", h.create, auth)
	g.POST("/create", h.create, auth)
	g.GET("", h.list, auth)
	g.GET("/:id", h.get, auth)
	g.DELETE("/:id", h.delete, auth)
	g.GET("/:id/events", h.events, auth)
}

func (h *JobsHandler) create(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, msgUnauthorized)
	}
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Goal is required.")
	}
	if utf8.RuneCountInString(goal) > maxGoalRunes {
		return echo.NewHTTPError(http.StatusBadRequest, "Goal must be 500 characters or fewer.")
	}
	if req.Budget == nil || budget.ValidateJobBudget(*req.Budget) != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Budget must be between $0.25 and $10.00.")
	}
	var cadence job.Cadence
	if req.Cadence != nil {
		cd, err := job.ParseCadence(*req.Cadence)
		if err != nil || cd == job.CadenceNone {
			return echo.NewHTTPError(http.StatusBadRequest, "Cadence must be daily or weekly.")
		}
		cadence = cd
	}

	ctx := c.Request().Context()
	typ := h.Classifier.Classify(ctx, goal)
	if typ == job.TypePersistent && cadence == job.CadenceNone {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": msgNeedsCadence, "needsCadence": true})
	}
	if typ == job.TypeOneShot {
		cadence = job.CadenceNone
	}

	id := uuid.NewString()
	log := h.Logger.With(zap.String("job_id", id), zap.String("user_id", userID))
	params := job.CreateParams{ID: id, UserID: userID, Goal: goal, Budget: *req.Budget, Type: typ, Cadence: cadence}
	if h.SpendRules != nil {
		rule, err := h.SpendRules.CreateSpendRule(ctx, id, *req.Budget)
		if err != nil {
			log.Warn("spending rule creation failed", zap.Error(err))
		} else {
			params.SpendRuleID = rule.ID
		}
	}
	if typ == job.TypePersistent {
		params.ScheduleID = id
	}

	j, err := h.Jobs.Create(ctx, params)
	if err != nil {
		log.Error("create job failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, msgCreateFailed)
	}
	if j.Persistent() {
		if err := h.Schedules.SetSchedule(ctx, j.ID, cadence.Cron()); err != nil {
			return h.abort(ctx, log, j.ID, fmt.Errorf("set schedule: %w", err))
		}
	}
	if err := h.Queue.Enqueue(ctx, j.ID, 0, streams.TriggerCreate); err != nil {
		return h.abort(ctx, log, j.ID, fmt.Errorf("enqueue first step: %w", err))
	}
	log.Info("job created", zap.String("type", string(j.Type)), zap.Float64("budget", j.Budget))
	return c.JSON(http.StatusOK, createJobResponse{JobID: j.ID, Type: j.Type})
}

// abort fails a freshly persisted job that could not be started.
func (h *JobsHandler) abort(ctx context.Context, log *zap.Logger, jobID string, cause error) error {
	log.Error("start job failed", zap.Error(cause))
	if _, err := h.Jobs.Fail(context.WithoutCancel(ctx), jobID, "Job could not be started."); err != nil {
		log.Error("mark job failed", zap.Error(err))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, msgCreateFailed)
}

func (h *JobsHandler) list(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, msgUnauthorized)
	}
	jobs, err := h.Records.ListUserJobs(c.Request().Context(), userID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	SortJobs(jobs)
	if jobs == nil {
		jobs = []job.Job{}
	}
	return c.JSON(http.StatusOK, map[string][]job.Job{"jobs": jobs})
}

// SortJobs orders jobs by status priority, newest first within a status.
func SortJobs(jobs []job.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		pi, pk := jobs[i].Status.SortPriority(), jobs[k].Status.SortPriority()
		if pi != pk {
			return pi < pk
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

// owned loads a job and checks that the session user owns it.
func (h *JobsHandler) owned(c echo.Context) (job.Job, error) {
	userID, ok := runtime.UserID(c)
	if !ok {
		return job.Job{}, echo.NewHTTPError(http.StatusUnauthorized, msgUnauthorized)
	}
	j, err := h.Jobs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return job.Job{}, echo.NewHTTPError(http.StatusNotFound, msgNotFound)
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("load job: %w", err)
	}
	if j.UserID != userID {
		return job.Job{}, echo.NewHTTPError(http.StatusForbidden, msgForbidden)
	}
	return j, nil
}

func (h *JobsHandler) get(c echo.Context) error {
	j, err := h.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	events, err := h.Records.ListSpendEvents(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("list spend events: %w", err)
	}
	if events == nil {
		events = []job.SpendEvent{}
	}
	a, err := h.Records.GetArtifact(ctx, j.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load artifact: %w", err)
	}
	return c.JSON(http.StatusOK, jobDetail{Job: j, SpendEvents: events, Artifact: a})
}

// delete stops a job. The record is kept; the schedule is removed best effort.
func (h *JobsHandler) delete(c echo.Context) error {
	j, err := h.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if j.Persistent() || j.ScheduleID != "" {
		if err := h.Schedules.DeleteSchedule(ctx, j.ID); err != nil {
			h.Logger.Warn("delete schedule failed", zap.String("job_id", j.ID), zap.Error(err))
		}
	}
	if _, err := h.Jobs.Pause(ctx, j.ID); err != nil {
		return fmt.Errorf("pause job: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// events streams the job's progress log as server-sent events, polling the
// log from the last seen offset until a terminal event or disconnect.
func (h *JobsHandler) events(c echo.Context) error {
	j, err := h.owned(c)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(h.Poll)
	defer ticker.Stop()
	var offset int64
	for {
		events, next, err := h.Records.StreamEvents(ctx, j.ID, offset)
		if err != nil {
			h.Logger.Debug("read event log failed", zap.String("job_id", j.ID), zap.Error(err))
		} else {
			offset = next
			for _, ev := range events {
				raw, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", raw); err != nil {
					return nil
				}
				res.Flush()
				if ev.Type.Terminal() {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
