package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

const (
	defaultTerminationGracePeriodConstant = 2 * time.Second
	environmentEntryTemplateConstant      = "%s=%s"
)

// OSCommandRunner executes commands through os/exec with deadline-aware termination.
//
// When the execution context expires the child process receives SIGTERM and is
// given the configured grace period to exit before SIGKILL is delivered.
type OSCommandRunner struct {
	terminationGracePeriod time.Duration
}

// NewOSCommandRunner constructs an OSCommandRunner with the default grace period.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{terminationGracePeriod: defaultTerminationGracePeriodConstant}
}

// NewOSCommandRunnerWithGracePeriod constructs an OSCommandRunner with a custom grace period.
func NewOSCommandRunnerWithGracePeriod(terminationGracePeriod time.Duration) *OSCommandRunner {
	if terminationGracePeriod <= 0 {
		terminationGracePeriod = defaultTerminationGracePeriodConstant
	}
	return &OSCommandRunner{terminationGracePeriod: terminationGracePeriod}
}

// Run executes the command and captures its observable results.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executableCommand := exec.CommandContext(executionContext, command.Program, command.Details.Arguments...)
	executableCommand.Dir = command.Details.WorkingDirectory
	executableCommand.Env = mergedEnvironment(command.Details.EnvironmentVariables)
	executableCommand.Cancel = func() error {
		return executableCommand.Process.Signal(syscall.SIGTERM)
	}
	executableCommand.WaitDelay = runner.terminationGracePeriod

	if len(command.Details.StandardInput) > 0 {
		executableCommand.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executableCommand.Stdout = &standardOutputBuffer
	executableCommand.Stderr = &standardErrorBuffer

	runError := executableCommand.Run()

	executionResult := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}

	if runError == nil {
		return executionResult, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		// A deadline expiry surfaces as a signal-terminated process; report the
		// context error so callers can distinguish timeouts from failures.
		if contextError := executionContext.Err(); contextError != nil {
			return executionResult, contextError
		}
		executionResult.ExitCode = exitError.ExitCode()
		return executionResult, nil
	}

	if contextError := executionContext.Err(); contextError != nil {
		return executionResult, contextError
	}

	return executionResult, runError
}

func mergedEnvironment(environmentVariables map[string]string) []string {
	merged := os.Environ()
	if len(environmentVariables) == 0 {
		return merged
	}

	variableNames := make([]string, 0, len(environmentVariables))
	for variableName := range environmentVariables {
		variableNames = append(variableNames, variableName)
	}
	sort.Strings(variableNames)

	for _, variableName := range variableNames {
		merged = append(merged, fmt.Sprintf(environmentEntryTemplateConstant, variableName, environmentVariables[variableName]))
	}
	return merged
}
