package taskrunner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/runner"
)

// Dependencies carries the collaborators an Executor needs.
type Dependencies struct {
	Logger         *zap.Logger
	BatchRunner    *runner.BatchRunner
	Output         io.Writer
	Errors         io.Writer
	DisableSummary bool
}

// Executor drives task orchestration runs.
type Executor interface {
	Run(ctx context.Context, sourceRoot string, tasks []catalog.Task, options runner.BatchOptions) (runner.Summary, error)
	RunDirectory(ctx context.Context, sourceRoot string, options runner.BatchOptions) (runner.Summary, error)
}

// Factory constructs an Executor given the run dependencies.
type Factory func(Dependencies) Executor

type batchRunnerAdapter struct {
	batchRunner *runner.BatchRunner
}

func (adapter batchRunnerAdapter) Run(ctx context.Context, sourceRoot string, tasks []catalog.Task, options runner.BatchOptions) (runner.Summary, error) {
	return adapter.batchRunner.RunBatch(ctx, sourceRoot, tasks, options)
}

func (adapter batchRunnerAdapter) RunDirectory(ctx context.Context, sourceRoot string, options runner.BatchOptions) (runner.Summary, error) {
	return adapter.batchRunner.RunDirectory(ctx, sourceRoot, options)
}

// Resolve returns either the provided factory result or the default batch
// runner adapter, wrapped so every run prints the end-of-run summary line.
func Resolve(factory Factory, dependencies Dependencies) Executor {
	var base Executor
	if factory != nil {
		base = factory(dependencies)
	}
	if base == nil {
		base = batchRunnerAdapter{batchRunner: dependencies.BatchRunner}
	}
	return summaryExecutor{
		delegate:     base,
		dependencies: dependencies,
	}
}

type summaryExecutor struct {
	delegate     Executor
	dependencies Dependencies
}

func (executor summaryExecutor) Run(ctx context.Context, sourceRoot string, tasks []catalog.Task, options runner.BatchOptions) (runner.Summary, error) {
	summary, runError := executor.delegate.Run(ctx, sourceRoot, tasks, options)
	executor.printSummary(summary)
	return summary, runError
}

func (executor summaryExecutor) RunDirectory(ctx context.Context, sourceRoot string, options runner.BatchOptions) (runner.Summary, error) {
	summary, runError := executor.delegate.RunDirectory(ctx, sourceRoot, options)
	executor.printSummary(summary)
	return summary, runError
}

func (executor summaryExecutor) printSummary(summary runner.Summary) {
	if executor.dependencies.DisableSummary {
		return
	}
	writer := executor.summaryWriter()
	if writer == nil {
		return
	}

	summaryLine := RenderSummaryLine(summary)
	if len(strings.TrimSpace(summaryLine)) == 0 {
		return
	}
	fmt.Fprintln(writer, summaryLine)
}

func (executor summaryExecutor) summaryWriter() io.Writer {
	if executor.dependencies.Errors != nil {
		return executor.dependencies.Errors
	}
	if executor.dependencies.Output != nil {
		return executor.dependencies.Output
	}
	return nil
}
