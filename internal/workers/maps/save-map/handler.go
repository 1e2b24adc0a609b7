package savemap

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/service"
	"maps-workers/internal/models"
)

const TaskType = "save-map"

type MapSaver interface {
	Save(ctx context.Context, req service.SaveRequest) (*models.SavedMap, error)
}

type Handler struct {
	config  *Config
	service MapSaver
	logger  logger.Logger
	errors  *errors.ErrorHandler
}

func NewHandler(config *Config, svc MapSaver, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		service: svc,
		logger:  log,
		errors:  errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	camunda.Job[Input, Output]{
		TaskType: TaskType,
		Timeout:  h.config.Timeout,
		Logger:   h.logger,
		Errors:   h.errors,
		Execute:  h.Execute,
	}.Run(client, job)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Attributes == nil {
		return nil, errors.NewInvalidInputError("attributes are required")
	}

	saved, err := h.service.Save(ctx, service.SaveRequest{
		ID:         input.MapID,
		Attributes: input.Attributes,
		References: input.References,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		MapID:      saved.ID,
		References: saved.References,
		UpdatedAt:  saved.UpdatedAt,
	}, nil
}
