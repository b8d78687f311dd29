package utils_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/stackup/internal/utils"
)

const (
	testConfigurationPathConstant = "/tmp/config.yaml"
	testProjectRootConstant       = "/srv/project"
	testContextLogLevelConstant   = "debug"
)

func TestCommandContextAccessorRoundTrip(testInstance *testing.T) {
	accessor := utils.NewCommandContextAccessor()

	executionContext := accessor.WithConfigurationFilePath(context.Background(), testConfigurationPathConstant)
	executionContext = accessor.WithProjectRoot(executionContext, testProjectRootConstant)
	executionContext = accessor.WithLogLevel(executionContext, testContextLogLevelConstant)

	configurationPath, configurationPathAvailable := accessor.ConfigurationFilePath(executionContext)
	require.True(testInstance, configurationPathAvailable)
	require.Equal(testInstance, testConfigurationPathConstant, configurationPath)

	projectRoot, projectRootAvailable := accessor.ProjectRoot(executionContext)
	require.True(testInstance, projectRootAvailable)
	require.Equal(testInstance, testProjectRootConstant, projectRoot)

	logLevel, logLevelAvailable := accessor.LogLevel(executionContext)
	require.True(testInstance, logLevelAvailable)
	require.Equal(testInstance, testContextLogLevelConstant, logLevel)
}

func TestCommandContextAccessorMissingValues(testInstance *testing.T) {
	accessor := utils.NewCommandContextAccessor()

	_, configurationPathAvailable := accessor.ConfigurationFilePath(context.Background())
	require.False(testInstance, configurationPathAvailable)

	_, projectRootAvailable := accessor.ProjectRoot(context.Background())
	require.False(testInstance, projectRootAvailable)

	_, logLevelAvailable := accessor.LogLevel(context.Background())
	require.False(testInstance, logLevelAvailable)
}

func TestCommandContextAccessorBlankValuesSkipped(testInstance *testing.T) {
	accessor := utils.NewCommandContextAccessor()

	executionContext := accessor.WithProjectRoot(context.Background(), "   ")
	_, projectRootAvailable := accessor.ProjectRoot(executionContext)
	require.False(testInstance, projectRootAvailable)

	executionContext = accessor.WithLogLevel(context.Background(), "")
	_, logLevelAvailable := accessor.LogLevel(executionContext)
	require.False(testInstance, logLevelAvailable)
}
