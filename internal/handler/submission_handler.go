package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/source"
)

// SubmissionHandler manages activity submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// RegisterActivityRoutes attaches the per-activity routes to the provided group.
// submitLimit throttles submissions per caller and activity; nil disables it.
func (h *SubmissionHandler) RegisterActivityRoutes(router fiber.Router, submitLimit fiber.Handler) {
	submit := middleware.WithAuth(h.submit, middleware.AuthOptions{Role: middleware.AuthRoleStudent})
	if submitLimit != nil {
		router.Post("/:activityId/submissions", submitLimit, submit)
	} else {
		router.Post("/:activityId/submissions", submit)
	}
	router.Get("/:activityId/submissions/me", middleware.WithAuth(h.mine, middleware.AuthOptions{RequireUser: true}))
	router.Get("/:activityId/submissions/:studentId", middleware.WithAuth(h.forStudent, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))
}

// RegisterSubmissionRoutes attaches grader routes keyed by submission id.
func (h *SubmissionHandler) RegisterSubmissionRoutes(router fiber.Router) {
	router.Post("/:id/reevaluate", middleware.WithAuth(h.reevaluate, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))
	router.Get("/:id/history", middleware.WithAuth(h.history, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "activityId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Submit(c.UserContext(), activityActorFromContext(c), activityID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission recorded", submission)
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "activityId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.UserContext(), activityID, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) forStudent(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "activityId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	studentID, err := parseUintParam(c, "studentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.UserContext(), activityID, studentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) reevaluate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Reevaluate(c.UserContext(), activityActorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission re-evaluated", submission)
}

func (h *SubmissionHandler) history(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	entries, err := h.service.History(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade history", entries)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var (
		validationErrors validator.ValidationErrors
		cooldown         *service.CooldownError
		fetchErr         *source.FetchError
	)
	switch {
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.Is(err, source.ErrInvalidReference):
		return utils.SendError(c, fiber.StatusBadRequest, "the submitted link is not a valid repository or notebook reference")
	case errors.Is(err, service.ErrInvalidSubmissionKind), errors.Is(err, service.ErrStudentRequired):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGraderOnly):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrAttemptsExhausted):
		return utils.SendError(c, fiber.StatusConflict, "you have used all attempts for this activity")
	case errors.Is(err, service.ErrGradingInProgress), errors.Is(err, service.ErrReevaluateUnsupported):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, source.ErrNotebookUnreadable), errors.Is(err, service.ErrNoGradableFiles):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrRepositoryUnlisted), errors.As(err, &fetchErr):
		requestLogger(h.logger, c).Warn().Err(err).Msg("submission content unavailable")
		return utils.SendError(c, fiber.StatusBadGateway, "the submitted repository could not be reached, please retry")
	case errors.As(err, &cooldown):
		c.Set(fiber.HeaderRetryAfter, cooldown.RetryAfterSeconds())
		return utils.SendError(c, fiber.StatusTooManyRequests, cooldown.Error())
	case errors.Is(err, ai.ErrConsolidationFailed):
		requestLogger(h.logger, c).Warn().Err(err).Msg("consolidation failed")
		return utils.SendError(c, fiber.StatusBadGateway, "the grader could not produce a result, please retry")
	case errors.Is(err, service.ErrCredentialMissing):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grading is not configured: no API key is available")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
