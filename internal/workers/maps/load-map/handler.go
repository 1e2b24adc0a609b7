package loadmap

import (
	"context"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/models"
)

const TaskType = "load-map"

type MapLoader interface {
	Load(ctx context.Context, id string) (*models.SavedMap, error)
}

type Handler struct {
	config  *Config
	service MapLoader
	logger  logger.Logger
	errors  *errors.ErrorHandler
}

func NewHandler(config *Config, svc MapLoader, log logger.Logger) *Handler {
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
	id := strings.TrimSpace(input.MapID)
	if id == "" {
		return nil, errors.NewInvalidInputError("mapId is required")
	}

	m, err := h.service.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Output{Map: m}, nil
}
