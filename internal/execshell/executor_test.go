package execshell_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/execshell"
)

const (
	testProgramNameConstant             = "installer.sh"
	testWorkingDirectoryConstant        = "."
	testStandardOutputConstant          = "installed"
	testStandardErrorConstant           = "permission denied"
	testRunnerFailureMessageConstant    = "runner exploded"
	executorSubtestNameTemplateConstant = "%d_%s"
	testCaseSuccessNameConstant         = "successful_command"
	testCaseNonZeroExitNameConstant     = "non_zero_exit"
	testCaseRunnerErrorNameConstant     = "runner_error"
	testCaseMissingProgramNameConstant  = "missing_program"
)

type recordingCommandRunner struct {
	executedCommands []execshell.ShellCommand
	result           execshell.ExecutionResult
	runError         error
}

func (runner *recordingCommandRunner) Run(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.executedCommands = append(runner.executedCommands, command)
	return runner.result, runner.runError
}

func TestShellExecutorExecute(testInstance *testing.T) {
	testCases := []struct {
		name              string
		program           string
		runnerResult      execshell.ExecutionResult
		runnerError       error
		expectFailedError bool
		expectRunnerError bool
		expectInputError  bool
	}{
		{
			name:         testCaseSuccessNameConstant,
			program:      testProgramNameConstant,
			runnerResult: execshell.ExecutionResult{StandardOutput: testStandardOutputConstant},
		},
		{
			name:              testCaseNonZeroExitNameConstant,
			program:           testProgramNameConstant,
			runnerResult:      execshell.ExecutionResult{ExitCode: 2, StandardError: testStandardErrorConstant},
			expectFailedError: true,
		},
		{
			name:              testCaseRunnerErrorNameConstant,
			program:           testProgramNameConstant,
			runnerError:       errors.New(testRunnerFailureMessageConstant),
			expectRunnerError: true,
		},
		{
			name:             testCaseMissingProgramNameConstant,
			program:          "  ",
			expectInputError: true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(executorSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			commandRunner := &recordingCommandRunner{result: testCase.runnerResult, runError: testCase.runnerError}
			executor, creationError := execshell.NewShellExecutor(zap.NewNop(), commandRunner)
			require.NoError(testInstance, creationError)

			command := execshell.ShellCommand{
				Program: testCase.program,
				Details: execshell.CommandDetails{WorkingDirectory: testWorkingDirectoryConstant},
			}
			executionResult, executionError := executor.Execute(context.Background(), command)

			if testCase.expectInputError {
				require.ErrorIs(testInstance, executionError, execshell.ErrProgramNameMissing)
				require.Empty(testInstance, commandRunner.executedCommands)
				return
			}
			require.Len(testInstance, commandRunner.executedCommands, 1)

			if testCase.expectRunnerError {
				var runnerError execshell.CommandExecutionError
				require.ErrorAs(testInstance, executionError, &runnerError)
				require.EqualError(testInstance, errors.Unwrap(runnerError), testRunnerFailureMessageConstant)
				return
			}

			if testCase.expectFailedError {
				var failedError execshell.CommandFailedError
				require.ErrorAs(testInstance, executionError, &failedError)
				require.Equal(testInstance, testCase.runnerResult.ExitCode, failedError.Result.ExitCode)
				require.Equal(testInstance, testCase.runnerResult.ExitCode, executionResult.ExitCode)
				require.Contains(testInstance, failedError.Error(), testStandardErrorConstant)
				return
			}

			require.NoError(testInstance, executionError)
			require.Equal(testInstance, testCase.runnerResult, executionResult)
		})
	}
}

func TestShellExecutorConstructorValidation(testInstance *testing.T) {
	_, missingLoggerError := execshell.NewShellExecutor(nil, &recordingCommandRunner{})
	require.ErrorIs(testInstance, missingLoggerError, execshell.ErrLoggerNotConfigured)

	_, missingRunnerError := execshell.NewShellExecutor(zap.NewNop(), nil)
	require.ErrorIs(testInstance, missingRunnerError, execshell.ErrCommandRunnerNotConfigured)
}

func TestShellExecutorShellHelpers(testInstance *testing.T) {
	commandRunner := &recordingCommandRunner{}
	executor, creationError := execshell.NewShellExecutor(zap.NewNop(), commandRunner)
	require.NoError(testInstance, creationError)

	_, scriptError := executor.ExecuteScript(context.Background(), "tasks/10-database.sh", execshell.CommandDetails{})
	require.NoError(testInstance, scriptError)

	_, lineError := executor.ExecuteShellLine(context.Background(), "test -f manifest.json", execshell.CommandDetails{})
	require.NoError(testInstance, lineError)

	require.Len(testInstance, commandRunner.executedCommands, 2)
	require.Equal(testInstance, []string{"tasks/10-database.sh"}, commandRunner.executedCommands[0].Details.Arguments)
	require.Equal(testInstance, []string{"-c", "test -f manifest.json"}, commandRunner.executedCommands[1].Details.Arguments)
}

func TestOSCommandRunnerRun(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	executionContext, cancelFunction := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFunction()

	successResult, successError := runner.Run(executionContext, execshell.ShellCommand{
		Program: "/bin/sh",
		Details: execshell.CommandDetails{Arguments: []string{"-c", "printf ready"}},
	})
	require.NoError(testInstance, successError)
	require.Equal(testInstance, 0, successResult.ExitCode)
	require.Equal(testInstance, "ready", successResult.StandardOutput)

	failureResult, failureError := runner.Run(executionContext, execshell.ShellCommand{
		Program: "/bin/sh",
		Details: execshell.CommandDetails{Arguments: []string{"-c", "exit 3"}},
	})
	require.NoError(testInstance, failureError)
	require.Equal(testInstance, 3, failureResult.ExitCode)
}

func TestOSCommandRunnerHonorsDeadline(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunnerWithGracePeriod(time.Second)

	executionContext, cancelFunction := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancelFunction()

	startTime := time.Now()
	_, runError := runner.Run(executionContext, execshell.ShellCommand{
		Program: "/bin/sh",
		Details: execshell.CommandDetails{Arguments: []string{"-c", "sleep 10"}},
	})
	elapsedDuration := time.Since(startTime)

	require.ErrorIs(testInstance, runError, context.DeadlineExceeded)
	require.Less(testInstance, elapsedDuration, 4*time.Second)
}

func TestOSCommandRunnerEnvironmentVariables(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	result, runError := runner.Run(context.Background(), execshell.ShellCommand{
		Program: "/bin/sh",
		Details: execshell.CommandDetails{
			Arguments:            []string{"-c", "printf %s \"$STACK_DB_NAME\""},
			EnvironmentVariables: map[string]string{"STACK_DB_NAME": "appdb"},
		},
	})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, "appdb", result.StandardOutput)
}
