package exportmaps

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/service"
)

const TaskType = "export-maps"

type MapExporter interface {
	Export(ctx context.Context) (*service.ExportResult, error)
}

type Handler struct {
	config  *Config
	service MapExporter
	logger  logger.Logger
	errors  *errors.ErrorHandler
}

func NewHandler(config *Config, svc MapExporter, log logger.Logger) *Handler {
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

// Execute exports every map. Without an upload the NDJSON itself is the
// result and must fit in the job variables.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.service.Export(ctx)
	if err != nil {
		return nil, err
	}

	output := &Output{Details: result.Details, Upload: result.Upload}
	if result.Upload == nil || input.IncludeContent {
		if h.config.InlineLimit > 0 && len(result.Content) > h.config.InlineLimit {
			return nil, errors.NewInvalidInputError(fmt.Sprintf(
				"export of %d bytes exceeds the inline limit of %d bytes; enable export upload",
				len(result.Content), h.config.InlineLimit))
		}
		output.Content = string(result.Content)
	}

	if result.Details.MissingRefCount > 0 {
		h.logger.Warn("export contains maps with missing references", map[string]interface{}{
			"missingRefCount": result.Details.MissingRefCount,
		})
	}
	return output, nil
}
