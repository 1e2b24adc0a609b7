package injectmapreferences

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/common/metrics"
	"maps-workers/internal/maps/references"
)

const TaskType = "inject-map-references"

type Handler struct {
	config *Config
	logger logger.Logger
	errors *errors.ErrorHandler
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		logger: log,
		errors: errors.NewErrorHandler(log),
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

	attrs, err := references.Inject(input.Attributes, input.References)
	if err != nil {
		stdErr := errors.FromError(err)
		metrics.CodecFailures.WithLabelValues("inject", string(stdErr.Code)).Inc()
		return nil, stdErr
	}
	metrics.ReferencesInjected.Inc()

	return &Output{Attributes: attrs}, nil
}
