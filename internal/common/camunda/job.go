package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/common/metrics"
)

// Job describes how a worker turns job variables into output variables.
type Job[I, O any] struct {
	TaskType string
	Timeout  time.Duration
	Logger   logger.Logger
	Errors   *errors.ErrorHandler
	Execute  func(ctx context.Context, input *I) (*O, error)
	// Retry governs completing the job; nil means DefaultRetryConfig.
	Retry *RetryConfig
}

// Run decodes the job variables, executes the job and either completes it
// with the output or hands the failure to the error handler.
func (j Job[I, O]) Run(client worker.JobClient, job entities.Job) {
	start := time.Now()
	j.Logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()

	output, err := j.execute(ctx, job)
	if err != nil {
		stdErr := errors.FromError(err)
		metrics.ObserveJob(j.TaskType, string(stdErr.Code), time.Since(start).Seconds())
		j.Errors.HandleJobError(context.Background(), client, job, stdErr)
		return
	}

	if err := complete(client, job, output, j.Retry); err != nil {
		j.Logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		metrics.ObserveJob(j.TaskType, string(errors.FromError(err).Code), time.Since(start).Seconds())
		return
	}
	metrics.ObserveJob(j.TaskType, "", time.Since(start).Seconds())
}

func (j Job[I, O]) execute(ctx context.Context, job entities.Job) (*O, error) {
	var input I
	if err := DecodeVariables(job, &input); err != nil {
		return nil, err
	}
	return j.Execute(ctx, &input)
}

// DecodeVariables unmarshals the job variables into v.
func DecodeVariables(job entities.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Variables), v); err != nil {
		return errors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}
	return nil
}

func complete(client worker.JobClient, job entities.Job, output interface{}, cfg *RetryConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return Retry(ctx, cfg, "complete job", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().
			JobKey(job.Key).
			VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
}
