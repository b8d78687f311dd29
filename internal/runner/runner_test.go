package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/execshell"
	"github.com/tyemirov/stackup/internal/ledger"
	"github.com/tyemirov/stackup/internal/runner"
)

const (
	testSourceRootConstant    = "/project/tasks"
	testRetryDelayConstant    = time.Millisecond
	testBaseTaskPathConstant  = "00-base.sh"
	testChildTaskPathConstant = "10-database.sh"
)

type scriptedOutcome struct {
	exitCode       int
	executionError error
}

// scriptedExecutor replays canned outcomes per task path and records every
// spawned process so tests can assert that gated tasks never start one.
type scriptedExecutor struct {
	outcomesByPath map[string][]scriptedOutcome
	scriptCalls    []string
	shellLineCalls []string
	shellLineError error
	lastDetails    execshell.CommandDetails
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{outcomesByPath: make(map[string][]scriptedOutcome)}
}

func (executor *scriptedExecutor) queueOutcome(taskPath string, outcome scriptedOutcome) {
	executor.outcomesByPath[taskPath] = append(executor.outcomesByPath[taskPath], outcome)
}

func (executor *scriptedExecutor) ExecuteScript(_ context.Context, scriptPath string, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.scriptCalls = append(executor.scriptCalls, scriptPath)
	executor.lastDetails = details

	queuedOutcomes := executor.outcomesByPath[scriptPath]
	if len(queuedOutcomes) == 0 {
		return execshell.ExecutionResult{}, nil
	}
	nextOutcome := queuedOutcomes[0]
	executor.outcomesByPath[scriptPath] = queuedOutcomes[1:]
	return execshell.ExecutionResult{ExitCode: nextOutcome.exitCode}, nextOutcome.executionError
}

func (executor *scriptedExecutor) ExecuteShellLine(_ context.Context, commandLine string, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.shellLineCalls = append(executor.shellLineCalls, commandLine)
	executor.lastDetails = details
	if executor.shellLineError != nil {
		return execshell.ExecutionResult{ExitCode: 1}, executor.shellLineError
	}
	return execshell.ExecutionResult{}, nil
}

func nonZeroExitOutcome() scriptedOutcome {
	failedCommand := execshell.ShellCommand{Program: "/bin/sh"}
	return scriptedOutcome{
		exitCode:       1,
		executionError: execshell.CommandFailedError{Command: failedCommand, Result: execshell.ExecutionResult{ExitCode: 1}},
	}
}

func timeoutOutcome() scriptedOutcome {
	return scriptedOutcome{
		exitCode:       -1,
		executionError: execshell.CommandExecutionError{Command: execshell.ShellCommand{Program: "/bin/sh"}, Cause: context.DeadlineExceeded},
	}
}

func newSequencerFixture(testInstance *testing.T) (*runner.Sequencer, *scriptedExecutor) {
	executor := newScriptedExecutor()
	sequencer, creationError := runner.NewSequencer(zap.NewNop(), executor, testRetryDelayConstant)
	require.NoError(testInstance, creationError)
	return sequencer, executor
}

func scriptPathFor(taskPath string) string {
	return testSourceRootConstant + "/" + taskPath
}

func baseTask(taskPath string, retries int) catalog.Task {
	return catalog.Task{
		Path:           taskPath,
		Phase:          0,
		TimeoutSeconds: catalog.DefaultTimeoutSeconds,
		Retries:        retries,
	}
}

func TestSequencerSucceedsOnFirstAttempt(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)

	result := sequencer.Run(context.Background(), testSourceRootConstant, baseTask(testBaseTaskPathConstant, 2), nil)

	require.Equal(testInstance, runner.StatusSuccess, result.Status)
	require.Equal(testInstance, 1, result.Attempts)
	require.False(testInstance, result.Skipped)
	require.Len(testInstance, executor.scriptCalls, 1)
	require.Equal(testInstance, scriptPathFor(testBaseTaskPathConstant), executor.scriptCalls[0])
}

func TestSequencerRetriesThenSucceeds(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)
	executor.queueOutcome(scriptPathFor(testBaseTaskPathConstant), nonZeroExitOutcome())

	result := sequencer.Run(context.Background(), testSourceRootConstant, baseTask(testBaseTaskPathConstant, 2), nil)

	require.Equal(testInstance, runner.StatusSuccess, result.Status)
	require.Equal(testInstance, 2, result.Attempts)
	require.Len(testInstance, executor.scriptCalls, 2)
}

func TestSequencerExhaustsRetries(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)
	taskScriptPath := scriptPathFor(testBaseTaskPathConstant)
	executor.queueOutcome(taskScriptPath, nonZeroExitOutcome())
	executor.queueOutcome(taskScriptPath, nonZeroExitOutcome())

	result := sequencer.Run(context.Background(), testSourceRootConstant, baseTask(testBaseTaskPathConstant, 1), nil)

	require.Equal(testInstance, runner.StatusFailure, result.Status)
	require.Equal(testInstance, 2, result.Attempts)
	require.Len(testInstance, executor.scriptCalls, 2)
	require.NotEmpty(testInstance, result.Detail)
}

func TestSequencerReportsExitCodeWithoutExecutorError(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)
	executor.queueOutcome(scriptPathFor(testBaseTaskPathConstant), scriptedOutcome{exitCode: 3})

	result := sequencer.Run(context.Background(), testSourceRootConstant, baseTask(testBaseTaskPathConstant, 0), nil)

	require.Equal(testInstance, runner.StatusFailure, result.Status)
	require.Equal(testInstance, "task exited with code 3", result.Detail)
}

func TestSequencerTimeoutIsTerminal(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)
	executor.queueOutcome(scriptPathFor(testBaseTaskPathConstant), timeoutOutcome())

	task := baseTask(testBaseTaskPathConstant, 3)
	task.TimeoutSeconds = 1
	result := sequencer.Run(context.Background(), testSourceRootConstant, task, nil)

	require.Equal(testInstance, runner.StatusTimeout, result.Status)
	require.Equal(testInstance, 1, result.Attempts)
	// A timed-out task is never retried despite its retry budget.
	require.Len(testInstance, executor.scriptCalls, 1)
}

func TestSequencerVerificationFailureOverridesSuccess(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)
	executor.shellLineError = execshell.CommandFailedError{
		Command: execshell.ShellCommand{Program: "/bin/sh"},
		Result:  execshell.ExecutionResult{ExitCode: 1},
	}

	task := baseTask(testBaseTaskPathConstant, 3)
	task.TestCommand = "test -S /var/run/db.sock"
	result := sequencer.Run(context.Background(), testSourceRootConstant, task, nil)

	require.Equal(testInstance, runner.StatusTestFailed, result.Status)
	require.Equal(testInstance, 1, result.Attempts)
	// Verification failures are terminal; neither the script nor the check reruns.
	require.Len(testInstance, executor.scriptCalls, 1)
	require.Len(testInstance, executor.shellLineCalls, 1)
	require.Equal(testInstance, task.TestCommand, executor.shellLineCalls[0])
}

func TestSequencerRunsVerificationAfterSuccess(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)

	task := baseTask(testBaseTaskPathConstant, 0)
	task.TestCommand = "true"
	result := sequencer.Run(context.Background(), testSourceRootConstant, task, nil)

	require.Equal(testInstance, runner.StatusSuccess, result.Status)
	require.Len(testInstance, executor.shellLineCalls, 1)
}

func TestSequencerExportsVariables(testInstance *testing.T) {
	sequencer, executor := newSequencerFixture(testInstance)

	variables := map[string]string{"DB_NAME": "appdb"}
	sequencer.Run(context.Background(), testSourceRootConstant, baseTask(testBaseTaskPathConstant, 0), variables)

	require.Equal(testInstance, variables, executor.lastDetails.EnvironmentVariables)
	require.Equal(testInstance, testSourceRootConstant, executor.lastDetails.WorkingDirectory)
}

func newDependencyRunnerFixture(testInstance *testing.T) (*runner.DependencyRunner, *scriptedExecutor) {
	sequencer, executor := newSequencerFixture(testInstance)
	dependencyRunner, creationError := runner.NewDependencyRunner(zap.NewNop(), sequencer)
	require.NoError(testInstance, creationError)
	return dependencyRunner, executor
}

func TestDependencyRunnerGatesOnMissingDependency(testInstance *testing.T) {
	dependencyRunner, executor := newDependencyRunnerFixture(testInstance)

	task := baseTask(testChildTaskPathConstant, 0)
	task.Dependencies = []string{testBaseTaskPathConstant}
	result := dependencyRunner.Run(context.Background(), testSourceRootConstant, task, nil, map[string]runner.ExecutionResult{})

	require.Equal(testInstance, runner.StatusDependencyNotRun, result.Status)
	require.Zero(testInstance, result.Attempts)
	// The gated task must never spawn a process.
	require.Empty(testInstance, executor.scriptCalls)
}

func TestDependencyRunnerGatesOnFailedDependency(testInstance *testing.T) {
	dependencyRunner, executor := newDependencyRunnerFixture(testInstance)

	task := baseTask(testChildTaskPathConstant, 0)
	task.Dependencies = []string{testBaseTaskPathConstant}
	currentRunResults := map[string]runner.ExecutionResult{
		testBaseTaskPathConstant: {TaskPath: testBaseTaskPathConstant, Status: runner.StatusTimeout},
	}
	result := dependencyRunner.Run(context.Background(), testSourceRootConstant, task, nil, currentRunResults)

	require.Equal(testInstance, runner.StatusDependencyFailed, result.Status)
	require.Empty(testInstance, executor.scriptCalls)
	require.Contains(testInstance, result.Detail, string(runner.StatusTimeout))
}

func TestDependencyRunnerRunsWhenDependenciesSucceeded(testInstance *testing.T) {
	dependencyRunner, executor := newDependencyRunnerFixture(testInstance)

	task := baseTask(testChildTaskPathConstant, 0)
	task.Dependencies = []string{testBaseTaskPathConstant}
	currentRunResults := map[string]runner.ExecutionResult{
		testBaseTaskPathConstant: {TaskPath: testBaseTaskPathConstant, Status: runner.StatusSuccess, Skipped: true},
	}
	result := dependencyRunner.Run(context.Background(), testSourceRootConstant, task, nil, currentRunResults)

	require.Equal(testInstance, runner.StatusSuccess, result.Status)
	require.Len(testInstance, executor.scriptCalls, 1)
}

type batchFixture struct {
	batchRunner     *runner.BatchRunner
	executor        *scriptedExecutor
	completionStore *ledger.Store
	catalogService  *catalog.Service
	fileSystem      afero.Fs
}

func newBatchFixture(testInstance *testing.T) batchFixture {
	fileSystem := afero.NewMemMapFs()
	completionStore, storeError := ledger.NewStore(zap.NewNop(), fileSystem, "/project/.stackup/state.ledger")
	require.NoError(testInstance, storeError)
	catalogService, catalogError := catalog.NewService(zap.NewNop(), fileSystem, "/project/.stackup/catalog.index", time.Hour)
	require.NoError(testInstance, catalogError)

	executor := newScriptedExecutor()
	sequencer, sequencerError := runner.NewSequencer(zap.NewNop(), executor, testRetryDelayConstant)
	require.NoError(testInstance, sequencerError)
	dependencyRunner, dependencyError := runner.NewDependencyRunner(zap.NewNop(), sequencer)
	require.NoError(testInstance, dependencyError)
	batchRunner, batchError := runner.NewBatchRunner(zap.NewNop(), dependencyRunner, completionStore, catalogService)
	require.NoError(testInstance, batchError)

	return batchFixture{
		batchRunner:     batchRunner,
		executor:        executor,
		completionStore: completionStore,
		catalogService:  catalogService,
		fileSystem:      fileSystem,
	}
}

func TestBatchRunnerSkipsRecordedCompletions(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)
	require.NoError(testInstance, fixture.completionStore.MarkSuccess(testBaseTaskPathConstant))

	tasks := []catalog.Task{baseTask(testBaseTaskPathConstant, 0), baseTask(testChildTaskPathConstant, 0)}
	summary, runError := fixture.batchRunner.RunBatch(context.Background(), testSourceRootConstant, tasks, runner.BatchOptions{})
	require.NoError(testInstance, runError)

	require.Equal(testInstance, 2, summary.Total)
	require.Equal(testInstance, 2, summary.Passed)
	require.True(testInstance, summary.Results[0].Skipped)
	require.Zero(testInstance, summary.Results[0].Attempts)
	// Only the unrecorded task spawned a process.
	require.Len(testInstance, fixture.executor.scriptCalls, 1)
	require.Equal(testInstance, scriptPathFor(testChildTaskPathConstant), fixture.executor.scriptCalls[0])
}

func TestBatchRunnerForceRerunsRecordedCompletions(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)
	require.NoError(testInstance, fixture.completionStore.MarkSuccess(testBaseTaskPathConstant))

	tasks := []catalog.Task{baseTask(testBaseTaskPathConstant, 0)}
	summary, runError := fixture.batchRunner.RunBatch(context.Background(), testSourceRootConstant, tasks, runner.BatchOptions{Force: true})
	require.NoError(testInstance, runError)

	require.False(testInstance, summary.Results[0].Skipped)
	require.Len(testInstance, fixture.executor.scriptCalls, 1)
}

func TestBatchRunnerRecordsGenuineSuccesses(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)

	tasks := []catalog.Task{baseTask(testBaseTaskPathConstant, 0)}
	summary, runError := fixture.batchRunner.RunBatch(context.Background(), testSourceRootConstant, tasks, runner.BatchOptions{})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, 1, summary.Passed)

	recorded, lookupError := fixture.completionStore.HasSucceeded(testBaseTaskPathConstant)
	require.NoError(testInstance, lookupError)
	require.True(testInstance, recorded)
}

func TestBatchRunnerContinuesPastFailures(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)
	fixture.executor.queueOutcome(scriptPathFor(testBaseTaskPathConstant), nonZeroExitOutcome())

	failingTask := baseTask(testBaseTaskPathConstant, 0)
	dependentTask := baseTask(testChildTaskPathConstant, 0)
	dependentTask.Dependencies = []string{testBaseTaskPathConstant}
	independentTask := baseTask("20-webserver.sh", 0)

	summary, runError := fixture.batchRunner.RunBatch(context.Background(), testSourceRootConstant, []catalog.Task{failingTask, dependentTask, independentTask}, runner.BatchOptions{})
	require.NoError(testInstance, runError)

	require.Equal(testInstance, 3, summary.Total)
	require.Equal(testInstance, 1, summary.Passed)
	require.Equal(testInstance, 2, summary.Failed)
	require.Equal(testInstance, runner.StatusFailure, summary.Results[0].Status)
	require.Equal(testInstance, runner.StatusDependencyFailed, summary.Results[1].Status)
	require.Equal(testInstance, runner.StatusSuccess, summary.Results[2].Status)

	recorded, lookupError := fixture.completionStore.HasSucceeded(testBaseTaskPathConstant)
	require.NoError(testInstance, lookupError)
	require.False(testInstance, recorded)
}

func TestBatchRunnerLedgerSkipSatisfiesDependents(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)
	require.NoError(testInstance, fixture.completionStore.MarkSuccess(testBaseTaskPathConstant))

	dependentTask := baseTask(testChildTaskPathConstant, 0)
	dependentTask.Dependencies = []string{testBaseTaskPathConstant}

	summary, runError := fixture.batchRunner.RunBatch(context.Background(), testSourceRootConstant, []catalog.Task{baseTask(testBaseTaskPathConstant, 0), dependentTask}, runner.BatchOptions{})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, 2, summary.Passed)
	require.Equal(testInstance, runner.StatusSuccess, summary.Results[1].Status)
}

func TestBatchRunnerRunDirectoryFollowsPhaseOrder(testInstance *testing.T) {
	fixture := newBatchFixture(testInstance)
	require.NoError(testInstance, afero.WriteFile(fixture.fileSystem, testSourceRootConstant+"/20-webserver.sh", []byte("# Phase: 2\n# Required: APP_PORT\necho web\n"), 0o755))
	require.NoError(testInstance, afero.WriteFile(fixture.fileSystem, testSourceRootConstant+"/00-base.sh", []byte("# Phase: 0\n# Required: PROJECT_NAME\necho base\n"), 0o755))

	_, refreshError := fixture.catalogService.Refresh(testSourceRootConstant, true)
	require.NoError(testInstance, refreshError)

	summary, runError := fixture.batchRunner.RunDirectory(context.Background(), testSourceRootConstant, runner.BatchOptions{
		Variables: map[string]string{"PROJECT_NAME": "demo", "APP_PORT": "8080"},
	})
	require.NoError(testInstance, runError)

	require.Equal(testInstance, 2, summary.Total)
	require.Equal(testInstance, 2, summary.Passed)
	require.Equal(testInstance, []string{
		scriptPathFor(testBaseTaskPathConstant),
		scriptPathFor("20-webserver.sh"),
	}, fixture.executor.scriptCalls)
	require.Equal(testInstance, "demo", fixture.executor.lastDetails.EnvironmentVariables["PROJECT_NAME"])
}
