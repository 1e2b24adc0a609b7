package extractmapreferences

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

const TaskType = "extract-map-references"

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

// Execute moves direct index-pattern ids out of the layer list into
// references.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Attributes == nil {
		return nil, errors.NewInvalidInputError("attributes are required")
	}

	attrs, refs, err := references.Extract(input.Attributes, input.References)
	if err != nil {
		stdErr := errors.FromError(err)
		metrics.CodecFailures.WithLabelValues("extract", string(stdErr.Code)).Inc()
		return nil, stdErr
	}

	extracted := len(refs) - len(input.References)
	metrics.ReferencesExtracted.Add(float64(extracted))

	h.logger.Debug("references extracted", map[string]interface{}{
		"extracted": extracted,
		"total":     len(refs),
	})

	if refs == nil {
		refs = []references.Reference{}
	}
	return &Output{
		Attributes: attrs,
		References: refs,
		Extracted:  extracted,
	}, nil
}
