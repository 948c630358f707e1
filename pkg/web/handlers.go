// Package web provides the operational REST API: submitting executions and
// steering in-flight ones. Every mutation beyond the initial store goes
// through the command queue, never directly against the repository.
package web

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
	"github.com/gantry-io/gantry/pkg/queue"
)

type APIHandlers struct {
	repository persistence.ExecutionRepository
	queue      queue.Queue
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	repository persistence.ExecutionRepository,
	q queue.Queue,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		repository: repository,
		queue:      q,
		validator:  validate,
		logger:     logger,
	}
}

// SubmitExecution stores a new execution and pushes StartExecution for it.
func (h *APIHandlers) SubmitExecution(c fiber.Ctx) error {
	body := c.Body()

	if err := validateSubmitPayload(body); err != nil {
		return badRequest(c, err.Error())
	}

	var req SubmitExecutionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := validateStageGraph(req.Stages); err != nil {
		return badRequest(c, err.Error())
	}

	execution := buildExecution(&req)

	if err := h.repository.Store(c.Context(), execution); err != nil {
		return handleRepositoryError(c, err)
	}

	start := &messages.StartExecution{}
	start.ExecutionID = execution.ID

	if err := h.queue.Push(c.Context(), start); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "execution submitted",
		"executionId", execution.ID, "application", execution.Application)

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.repository.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	execution, err := h.repository.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	cancel := &messages.CancelExecution{Reason: req.Reason, CanceledBy: req.CanceledBy}
	cancel.ExecutionID = execution.ID

	if err := h.queue.Push(c.Context(), cancel); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// PauseExecution pauses synchronously through the repository; running tasks
// observe the paused status on their next poll.
func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	var req PauseExecutionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	execution, err := h.repository.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if execution.Status != models.StatusRunning {
		return conflict(c, "only a running execution can be paused")
	}

	if err := h.repository.Pause(c.Context(), execution.ID, req.PausedBy); err != nil {
		return handleRepositoryError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	execution, err := h.repository.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if execution.Status != models.StatusPaused {
		return conflict(c, "only a paused execution can be resumed")
	}

	resume := &messages.ResumeExecution{ResumedBy: req.ResumedBy}
	resume.ExecutionID = execution.ID

	if err := h.queue.Push(c.Context(), resume); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) RestartStage(c fiber.Ctx) error {
	var req RestartStageRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid JSON payload: "+err.Error())
	}

	return h.pushStageCommand(c, func(executionID, stageID string) messages.Message {
		restart := &messages.RestartStage{RestartedBy: req.RestartedBy}
		restart.ExecutionID = executionID
		restart.StageID = stageID

		return restart
	})
}

func (h *APIHandlers) SkipStage(c fiber.Ctx) error {
	return h.pushStageCommand(c, func(executionID, stageID string) messages.Message {
		skip := &messages.SkipStage{}
		skip.ExecutionID = executionID
		skip.StageID = stageID

		return skip
	})
}

func (h *APIHandlers) AbortStage(c fiber.Ctx) error {
	return h.pushStageCommand(c, func(executionID, stageID string) messages.Message {
		abort := &messages.AbortStage{}
		abort.ExecutionID = executionID
		abort.StageID = stageID

		return abort
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.repository.HealthCheck(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *APIHandlers) pushStageCommand(c fiber.Ctx, build func(executionID, stageID string) messages.Message) error {
	execution, err := h.repository.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	stage := execution.StageByID(c.Params("stageId"))
	if stage == nil {
		return notFound(c, "stage not found")
	}

	if err := h.queue.Push(c.Context(), build(execution.ID, stage.ID)); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func buildExecution(req *SubmitExecutionRequest) *models.Execution {
	execution := &models.Execution{
		ID:               uuid.New().String(),
		Application:      req.Application,
		Name:             req.Name,
		Status:           models.StatusNotStarted,
		Context:          req.Context,
		Trigger:          req.Trigger,
		PipelineConfigID: req.PipelineConfigID,
		LimitConcurrent:  req.LimitConcurrent,
		StartTimeExpiry:  req.StartTimeExpiry,
	}

	for _, input := range req.Stages {
		execution.AddStage(&models.Stage{
			ID:                   uuid.New().String(),
			RefID:                input.RefID,
			Type:                 input.Type,
			Name:                 input.Name,
			Status:               models.StatusNotStarted,
			Context:              orEmpty(input.Context),
			RequisiteStageRefIDs: input.RequisiteStageRefIDs,
		})
	}

	return execution
}

func orEmpty(context map[string]any) map[string]any {
	if context == nil {
		return map[string]any{}
	}

	return context
}
