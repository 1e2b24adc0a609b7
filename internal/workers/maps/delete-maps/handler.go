package deletemaps

import (
	"context"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/camunda"
	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
)

const TaskType = "delete-maps"

type MapDeleter interface {
	Delete(ctx context.Context, ids ...string) ([]string, error)
}

type Handler struct {
	config  *Config
	service MapDeleter
	logger  logger.Logger
	errors  *errors.ErrorHandler
}

func NewHandler(config *Config, svc MapDeleter, log logger.Logger) *Handler {
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

// Execute deletes every id. Unknown ids are reported, not failed; any other
// failure fails the job so it can be retried. Deleting is idempotent.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ids := make([]string, 0, len(input.MapIDs))
	for _, id := range input.MapIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.NewInvalidInputError("mapIds must contain at least one id")
	}

	deleted, err := h.service.Delete(ctx, ids...)
	output := &Output{Deleted: deleted, NotFound: []string{}}
	if output.Deleted == nil {
		output.Deleted = []string{}
	}

	for _, e := range unjoin(err) {
		stdErr := errors.FromError(e)
		if stdErr.Code != errors.ErrCodeMapNotFound {
			return nil, stdErr
		}
		if id, ok := stdErr.Metadata["mapId"].(string); ok {
			output.NotFound = append(output.NotFound, id)
		}
	}

	h.logger.Info("maps deleted", map[string]interface{}{
		"deleted":  len(output.Deleted),
		"notFound": len(output.NotFound),
	})
	return output, nil
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
