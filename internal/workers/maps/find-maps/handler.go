package findmaps

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/store"
	"maps-workers/internal/models"
)

const TaskType = "find-maps"

type MapFinder interface {
	Find(ctx context.Context, opts store.FindOptions) (*store.FindResult, error)
}

type Handler struct {
	config  *Config
	service MapFinder
	logger  logger.Logger
	errors  *errors.ErrorHandler
}

func NewHandler(config *Config, svc MapFinder, log logger.Logger) *Handler {
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
	if input.Limit < 0 {
		return nil, errors.NewInvalidInputError("limit must not be negative")
	}

	result, err := h.service.Find(ctx, store.FindOptions{
		Text:        input.Search,
		Limit:       input.Limit,
		IncludeTags: input.IncludeTags,
		ExcludeTags: input.ExcludeTags,
	})
	if err != nil {
		return nil, err
	}

	items := make([]models.MapListItem, 0, len(result.Maps))
	for _, m := range result.Maps {
		items = append(items, m.ListItem())
	}

	h.logger.Debug("maps found", map[string]interface{}{
		"search":   input.Search,
		"total":    result.Total,
		"returned": len(items),
	})

	return &Output{Total: result.Total, Maps: items}, nil
}
