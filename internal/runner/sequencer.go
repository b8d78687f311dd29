package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/execshell"
)

const (
	defaultRetryDelayConstant               = 5 * time.Second
	sequencerLoggerMissingMessageConstant   = "sequencer logger not provided"
	sequencerExecutorMissingMessageConstant = "sequencer process executor not provided"
	attemptStartMessageConstant             = "task attempt starting"
	attemptTimeoutMessageConstant           = "task attempt exceeded its timeout"
	attemptFailureMessageConstant           = "task attempt failed"
	attemptRetryMessageConstant             = "retrying task after delay"
	testCommandFailureMessageConstant       = "task completed but verification command failed"
	taskCompletedMessageConstant            = "task completed"
	taskPathLogFieldConstant                = "task_path"
	attemptLogFieldConstant                 = "attempt"
	maxAttemptsLogFieldConstant             = "max_attempts"
	timeoutSecondsLogFieldConstant          = "timeout_seconds"
	statusLogFieldConstant                  = "status"
	timeoutDetailTemplateConstant           = "task exceeded its %d second timeout"
	nonZeroExitDetailTemplateConstant       = "task exited with code %d"
	testFailureDetailTemplateConstant       = "verification command failed: %s"
	runCanceledDetailConstant               = "run canceled before the task could complete"
)

// ProcessExecutor runs task scripts and verification command lines.
type ProcessExecutor interface {
	ExecuteScript(executionContext context.Context, scriptPath string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
	ExecuteShellLine(executionContext context.Context, commandLine string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Sequencer executes a single task to a terminal status: it bounds every
// attempt by the task timeout, retries genuine failures with a fixed delay,
// and runs the declared verification command after a passing attempt.
//
// Timeouts and verification failures are terminal and never retried. The
// reported duration covers only the final attempt.
type Sequencer struct {
	logger          *zap.Logger
	processExecutor ProcessExecutor
	retryDelay      time.Duration
}

// NewSequencer constructs a Sequencer. A non-positive retry delay falls back
// to the five-second default.
func NewSequencer(logger *zap.Logger, processExecutor ProcessExecutor, retryDelay time.Duration) (*Sequencer, error) {
	if logger == nil {
		return nil, errors.New(sequencerLoggerMissingMessageConstant)
	}
	if processExecutor == nil {
		return nil, errors.New(sequencerExecutorMissingMessageConstant)
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelayConstant
	}
	return &Sequencer{
		logger:          logger,
		processExecutor: processExecutor,
		retryDelay:      retryDelay,
	}, nil
}

// Run executes the task script under sourceRoot with the provided variables
// exported into the process environment.
func (sequencer *Sequencer) Run(runContext context.Context, sourceRoot string, task catalog.Task, variables map[string]string) ExecutionResult {
	scriptPath := filepath.Join(sourceRoot, task.Path)
	commandDetails := execshell.CommandDetails{
		WorkingDirectory:     sourceRoot,
		EnvironmentVariables: variables,
	}
	maxAttempts := task.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := ExecutionResult{TaskPath: task.Path, Status: StatusFailure}
	for attemptNumber := 1; attemptNumber <= maxAttempts; attemptNumber++ {
		if attemptNumber > 1 {
			sequencer.logger.Info(attemptRetryMessageConstant,
				zap.String(taskPathLogFieldConstant, task.Path),
				zap.Int(attemptLogFieldConstant, attemptNumber),
			)
			if waitError := sequencer.waitBeforeRetry(runContext); waitError != nil {
				result.Detail = runCanceledDetailConstant
				return result
			}
		}
		result.Attempts = attemptNumber

		sequencer.logger.Info(attemptStartMessageConstant,
			zap.String(taskPathLogFieldConstant, task.Path),
			zap.Int(attemptLogFieldConstant, attemptNumber),
			zap.Int(maxAttemptsLogFieldConstant, maxAttempts),
			zap.Int(timeoutSecondsLogFieldConstant, task.TimeoutSeconds),
		)

		attemptStart := time.Now()
		attemptContext, cancelAttempt := context.WithTimeout(runContext, time.Duration(task.TimeoutSeconds)*time.Second)
		executionResult, executionError := sequencer.processExecutor.ExecuteScript(attemptContext, scriptPath, commandDetails)
		cancelAttempt()
		result.DurationSeconds = time.Since(attemptStart).Seconds()

		if executionError == nil && executionResult.ExitCode == 0 {
			result.Status = StatusSuccess
			result.Detail = ""
			break
		}

		if errors.Is(executionError, context.DeadlineExceeded) && runContext.Err() == nil {
			result.Status = StatusTimeout
			result.Detail = fmt.Sprintf(timeoutDetailTemplateConstant, task.TimeoutSeconds)
			sequencer.logger.Warn(attemptTimeoutMessageConstant,
				zap.String(taskPathLogFieldConstant, task.Path),
				zap.Int(timeoutSecondsLogFieldConstant, task.TimeoutSeconds),
			)
			return result
		}
		if runContext.Err() != nil {
			result.Status = StatusFailure
			result.Detail = runCanceledDetailConstant
			return result
		}

		result.Status = StatusFailure
		result.Detail = fmt.Sprintf(nonZeroExitDetailTemplateConstant, executionResult.ExitCode)
		if executionError != nil {
			result.Detail = executionError.Error()
		}
		sequencer.logger.Warn(attemptFailureMessageConstant,
			zap.String(taskPathLogFieldConstant, task.Path),
			zap.Int(attemptLogFieldConstant, attemptNumber),
			zap.Error(executionError),
		)
	}

	if result.Status == StatusSuccess && len(task.TestCommand) > 0 {
		testContext, cancelTest := context.WithTimeout(runContext, time.Duration(task.TimeoutSeconds)*time.Second)
		_, testError := sequencer.processExecutor.ExecuteShellLine(testContext, task.TestCommand, commandDetails)
		cancelTest()
		if testError != nil {
			result.Status = StatusTestFailed
			result.Detail = fmt.Sprintf(testFailureDetailTemplateConstant, testError.Error())
			sequencer.logger.Warn(testCommandFailureMessageConstant,
				zap.String(taskPathLogFieldConstant, task.Path),
				zap.Error(testError),
			)
			return result
		}
	}

	sequencer.logger.Info(taskCompletedMessageConstant,
		zap.String(taskPathLogFieldConstant, task.Path),
		zap.String(statusLogFieldConstant, string(result.Status)),
		zap.Int(attemptLogFieldConstant, result.Attempts),
	)
	return result
}

func (sequencer *Sequencer) waitBeforeRetry(runContext context.Context) error {
	retryTimer := time.NewTimer(sequencer.retryDelay)
	defer retryTimer.Stop()
	select {
	case <-runContext.Done():
		return runContext.Err()
	case <-retryTimer.C:
		return nil
	}
}
