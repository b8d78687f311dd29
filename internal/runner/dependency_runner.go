package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
)

const (
	dependencyLoggerMissingMessageConstant    = "dependency runner logger not provided"
	dependencySequencerMissingMessageConstant = "dependency runner sequencer not provided"
	dependencyGateMessageConstant             = "task skipped by dependency gate"
	dependencyLogFieldConstant                = "dependency"
	dependencyNotRunDetailTemplateConstant    = "dependency %s has not run in this invocation"
	dependencyFailedDetailTemplateConstant    = "dependency %s finished with status %s"
)

// DependencyRunner gates task execution on the outcomes of its declared
// dependencies within the current run. Ledger history from earlier runs does
// not satisfy a dependency; only same-run results count.
type DependencyRunner struct {
	logger    *zap.Logger
	sequencer *Sequencer
}

// NewDependencyRunner constructs a DependencyRunner delegating execution to
// the sequencer.
func NewDependencyRunner(logger *zap.Logger, sequencer *Sequencer) (*DependencyRunner, error) {
	if logger == nil {
		return nil, errors.New(dependencyLoggerMissingMessageConstant)
	}
	if sequencer == nil {
		return nil, errors.New(dependencySequencerMissingMessageConstant)
	}
	return &DependencyRunner{logger: logger, sequencer: sequencer}, nil
}

// Run checks every declared dependency against the current-run results and,
// when all of them succeeded (or were skipped as already complete), executes
// the task with the provided variables exported into its environment. A
// dependency missing from the results or finishing unsuccessfully makes the
// task terminal without spawning its process.
func (dependencyRunner *DependencyRunner) Run(runContext context.Context, sourceRoot string, task catalog.Task, variables map[string]string, currentRunResults map[string]ExecutionResult) ExecutionResult {
	if gateResult, gated := dependencyRunner.gate(task, currentRunResults); gated {
		return gateResult
	}
	return dependencyRunner.sequencer.Run(runContext, sourceRoot, task, variables)
}

func (dependencyRunner *DependencyRunner) gate(task catalog.Task, currentRunResults map[string]ExecutionResult) (ExecutionResult, bool) {
	for _, dependencyPath := range task.Dependencies {
		dependencyResult, dependencyRan := currentRunResults[dependencyPath]

		gateStatus := ExecutionStatus("")
		gateDetail := ""
		switch {
		case !dependencyRan:
			gateStatus = StatusDependencyNotRun
			gateDetail = fmt.Sprintf(dependencyNotRunDetailTemplateConstant, dependencyPath)
		case !dependencyResult.Succeeded():
			gateStatus = StatusDependencyFailed
			gateDetail = fmt.Sprintf(dependencyFailedDetailTemplateConstant, dependencyPath, dependencyResult.Status)
		default:
			continue
		}

		dependencyRunner.logger.Warn(dependencyGateMessageConstant,
			zap.String(taskPathLogFieldConstant, task.Path),
			zap.String(dependencyLogFieldConstant, dependencyPath),
			zap.String(statusLogFieldConstant, string(gateStatus)),
		)
		return ExecutionResult{TaskPath: task.Path, Status: gateStatus, Detail: gateDetail}, true
	}
	return ExecutionResult{}, false
}
