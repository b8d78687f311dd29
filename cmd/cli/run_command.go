package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/runner"
)

const (
	runCommandUseConstant              = "run <task> [task...]"
	runCommandShortDescriptionConstant = "Run selected tasks by catalog path"
	runCommandLongDescriptionConstant  = "run executes the named tasks in the order given, applying the same ledger skip, dependency gating, and retry behavior as a full install."
	runTaskLoadErrorTemplateConstant   = "unable to load task %s: %w"
	runFailureTemplateConstant         = "%d of %d task(s) did not complete successfully"
	runSparseMetadataMessageConstant   = "catalog metadata is sparse"
	runSourceRootLogFieldConstant      = "source_root"
	sourceRootFlagNameConstant         = "source-root"
	sourceRootFlagUsageConstant        = "Directory holding the task source tree."
)

func (application *Application) newRunCommand() *cobra.Command {
	var forceFlagValue bool
	var sourceRootFlagValue string

	runCommand := &cobra.Command{
		Use:           runCommandUseConstant,
		Short:         runCommandShortDescriptionConstant,
		Long:          runCommandLongDescriptionConstant,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRunCommand(command, arguments, forceFlagValue, sourceRootFlagValue)
		},
	}

	runCommand.Flags().BoolVar(&forceFlagValue, forceFlagNameConstant, false, forceFlagUsageConstant)
	runCommand.Flags().StringVar(&sourceRootFlagValue, sourceRootFlagNameConstant, "", sourceRootFlagUsageConstant)
	return runCommand
}

func (application *Application) runRunCommand(command *cobra.Command, arguments []string, forceFlagValue bool, sourceRootFlagValue string) error {
	services, servicesError := application.buildServices(command)
	if servicesError != nil {
		return servicesError
	}

	sourceRoot := resolveSourceRoot(
		application.configuration.Common.ProjectRoot,
		application.configuration.Install.SourceRoot,
		sourceRootFlagValue,
	)

	if _, refreshError := services.catalogService.Refresh(sourceRoot, false); refreshError != nil {
		if !errors.Is(refreshError, catalog.ErrSparseMetadata) {
			return refreshError
		}
		application.logger.Warn(runSparseMetadataMessageConstant,
			zap.String(runSourceRootLogFieldConstant, sourceRoot),
		)
	}

	selectedTasks := make([]catalog.Task, 0, len(arguments))
	for _, taskPath := range arguments {
		loadedTask, loadError := services.catalogService.LoadTask(sourceRoot, taskPath)
		if loadError != nil {
			return fmt.Errorf(runTaskLoadErrorTemplateConstant, taskPath, loadError)
		}
		selectedTasks = append(selectedTasks, loadedTask)
	}

	summary, runError := services.executor.Run(command.Context(), sourceRoot, selectedTasks, runner.BatchOptions{
		Force:     forceFlagValue || application.configuration.Install.Force,
		Variables: application.configuration.Install.Variables,
	})
	if runError != nil {
		return runError
	}
	if summary.Failed > 0 {
		return fmt.Errorf(runFailureTemplateConstant, summary.Failed, summary.Total)
	}
	return nil
}
