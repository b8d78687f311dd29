package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
)

const (
	batchLoggerMissingMessageConstant           = "batch runner logger not provided"
	batchDependencyRunnerMissingMessageConstant = "batch runner dependency runner not provided"
	batchStateStoreMissingMessageConstant       = "batch runner state store not provided"
	batchCatalogMissingMessageConstant          = "batch runner task source not provided"
	taskSkippedMessageConstant                  = "task already recorded as complete; skipping"
	taskLoadFailedMessageConstant               = "task definition could not be loaded"
	ledgerLookupFailedMessageConstant           = "ledger lookup failed; treating task as incomplete"
	ledgerMarkFailedMessageConstant             = "unable to record task completion"
	batchCompletedMessageConstant               = "batch completed"
	totalLogFieldConstant                       = "total"
	passedLogFieldConstant                      = "passed"
	failedLogFieldConstant                      = "failed"
	skippedDetailConstant                       = "already recorded as complete"
	taskLoadFailureDetailTemplateConstant       = "unable to load task definition: %s"
	ledgerWriteErrorTemplateConstant            = "run completed but %d ledger write(s) failed: %w"
)

// TaskSource resolves full task definitions for a directory run.
type TaskSource interface {
	EntriesOrderedByPhase() []catalog.IndexEntry
	LoadTask(sourceRoot string, taskPath string) (catalog.Task, error)
}

// CompletionStore records and answers durable task completions.
type CompletionStore interface {
	HasSucceeded(taskKey string) (bool, error)
	MarkSuccess(taskKey string) error
}

// BatchOptions adjusts how a batch run treats recorded completions.
type BatchOptions struct {
	Force     bool
	Variables map[string]string
}

type batchItem struct {
	task        catalog.Task
	loadFailure string
}

// BatchRunner drives an ordered set of tasks to completion. It never stops at
// the first failure: every task reaches a terminal status and the summary
// reports all of them. Only environment-level problems, such as an unwritable
// state directory, surface as errors.
type BatchRunner struct {
	logger           *zap.Logger
	dependencyRunner *DependencyRunner
	completionStore  CompletionStore
	taskSource       TaskSource
}

// NewBatchRunner constructs a BatchRunner.
func NewBatchRunner(logger *zap.Logger, dependencyRunner *DependencyRunner, completionStore CompletionStore, taskSource TaskSource) (*BatchRunner, error) {
	if logger == nil {
		return nil, errors.New(batchLoggerMissingMessageConstant)
	}
	if dependencyRunner == nil {
		return nil, errors.New(batchDependencyRunnerMissingMessageConstant)
	}
	if completionStore == nil {
		return nil, errors.New(batchStateStoreMissingMessageConstant)
	}
	if taskSource == nil {
		return nil, errors.New(batchCatalogMissingMessageConstant)
	}
	return &BatchRunner{
		logger:           logger,
		dependencyRunner: dependencyRunner,
		completionStore:  completionStore,
		taskSource:       taskSource,
	}, nil
}

// RunBatch executes the provided tasks in order. Tasks with a recorded
// completion are skipped and reported as successes unless options.Force is
// set; genuine successes are recorded back into the completion store. The
// summary is complete even when the returned error is non-nil.
func (batchRunner *BatchRunner) RunBatch(runContext context.Context, sourceRoot string, tasks []catalog.Task, options BatchOptions) (Summary, error) {
	items := make([]batchItem, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, batchItem{task: task})
	}
	return batchRunner.runItems(runContext, sourceRoot, items, options)
}

// RunDirectory executes every indexed task in phase order. A task file that
// disappeared or turned unreadable after indexing stays visible in the
// summary as a failure.
func (batchRunner *BatchRunner) RunDirectory(runContext context.Context, sourceRoot string, options BatchOptions) (Summary, error) {
	orderedEntries := batchRunner.taskSource.EntriesOrderedByPhase()
	items := make([]batchItem, 0, len(orderedEntries))
	for _, entry := range orderedEntries {
		task, loadError := batchRunner.taskSource.LoadTask(sourceRoot, entry.Path)
		if loadError != nil {
			batchRunner.logger.Error(taskLoadFailedMessageConstant,
				zap.String(taskPathLogFieldConstant, entry.Path),
				zap.Error(loadError),
			)
			items = append(items, batchItem{task: catalog.Task{Path: entry.Path}, loadFailure: loadError.Error()})
			continue
		}
		items = append(items, batchItem{task: task})
	}
	return batchRunner.runItems(runContext, sourceRoot, items, options)
}

func (batchRunner *BatchRunner) runItems(runContext context.Context, sourceRoot string, items []batchItem, options BatchOptions) (Summary, error) {
	summary := Summary{StartTime: time.Now()}
	currentRunResults := make(map[string]ExecutionResult, len(items))
	ledgerWriteFailures := 0
	var lastLedgerWriteError error

	for _, item := range items {
		result := batchRunner.runOne(runContext, sourceRoot, item, options, currentRunResults)

		if result.Status == StatusSuccess && !result.Skipped {
			if markError := batchRunner.completionStore.MarkSuccess(item.task.Path); markError != nil {
				ledgerWriteFailures++
				lastLedgerWriteError = markError
				batchRunner.logger.Error(ledgerMarkFailedMessageConstant,
					zap.String(taskPathLogFieldConstant, item.task.Path),
					zap.Error(markError),
				)
			}
		}

		currentRunResults[item.task.Path] = result
		summary.Results = append(summary.Results, result)
		summary.Total++
		if result.Succeeded() {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	summary.EndTime = time.Now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)
	batchRunner.logger.Info(batchCompletedMessageConstant,
		zap.Int(totalLogFieldConstant, summary.Total),
		zap.Int(passedLogFieldConstant, summary.Passed),
		zap.Int(failedLogFieldConstant, summary.Failed),
	)

	if ledgerWriteFailures > 0 {
		return summary, fmt.Errorf(ledgerWriteErrorTemplateConstant, ledgerWriteFailures, lastLedgerWriteError)
	}
	return summary, nil
}

func (batchRunner *BatchRunner) runOne(runContext context.Context, sourceRoot string, item batchItem, options BatchOptions, currentRunResults map[string]ExecutionResult) ExecutionResult {
	if len(item.loadFailure) > 0 {
		return ExecutionResult{
			TaskPath: item.task.Path,
			Status:   StatusFailure,
			Detail:   fmt.Sprintf(taskLoadFailureDetailTemplateConstant, item.loadFailure),
		}
	}

	if !options.Force {
		alreadyComplete, lookupError := batchRunner.completionStore.HasSucceeded(item.task.Path)
		if lookupError != nil {
			batchRunner.logger.Warn(ledgerLookupFailedMessageConstant,
				zap.String(taskPathLogFieldConstant, item.task.Path),
				zap.Error(lookupError),
			)
		}
		if alreadyComplete {
			batchRunner.logger.Info(taskSkippedMessageConstant, zap.String(taskPathLogFieldConstant, item.task.Path))
			return ExecutionResult{
				TaskPath: item.task.Path,
				Status:   StatusSuccess,
				Skipped:  true,
				Detail:   skippedDetailConstant,
			}
		}
	}

	return batchRunner.dependencyRunner.Run(runContext, sourceRoot, item.task, options.Variables, currentRunResults)
}
