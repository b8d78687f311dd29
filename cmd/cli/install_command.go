package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/prefetch"
	"github.com/tyemirov/stackup/internal/runner"
)

const (
	installCommandUseConstant              = "install [source-root]"
	installCommandShortDescriptionConstant = "Run every catalogued task in phase order"
	installCommandLongDescriptionConstant  = "install refreshes the task catalog, skips tasks already recorded in the completion ledger, and executes the remaining tasks in phase order with dependency gating."
	forceFlagNameConstant                  = "force"
	forceFlagUsageConstant                 = "Rerun tasks even when the ledger records a prior success."
	sparseMetadataWarningMessageConstant   = "catalog metadata is sparse"
	missingVariablesWarningMessageConstant = "configured variables do not cover all declared requirements"
	missingVariablesLogFieldConstant       = "missing_variables"
	prefetchStartFailedMessageConstant     = "background prefetch failed to start"
	prefetchTimedOutMessageConstant        = "background prefetch timed out"
	installFailureTemplateConstant         = "%d of %d task(s) did not complete successfully"
	sourceRootLogFieldConstant             = "source_root"
	entryCountLogFieldConstant             = "entry_count"
	warningCountLogFieldConstant           = "warning_count"
)

func (application *Application) newInstallCommand() *cobra.Command {
	var forceFlagValue bool

	installCommand := &cobra.Command{
		Use:           installCommandUseConstant,
		Short:         installCommandShortDescriptionConstant,
		Long:          installCommandLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runInstallCommand(command, arguments, forceFlagValue)
		},
	}

	installCommand.Flags().BoolVar(&forceFlagValue, forceFlagNameConstant, false, forceFlagUsageConstant)
	return installCommand
}

func (application *Application) runInstallCommand(command *cobra.Command, arguments []string, forceFlagValue bool) error {
	services, servicesError := application.buildServices(command)
	if servicesError != nil {
		return servicesError
	}

	argumentSourceRoot := ""
	if len(arguments) > 0 {
		argumentSourceRoot = arguments[0]
	}
	sourceRoot := resolveSourceRoot(
		application.configuration.Common.ProjectRoot,
		application.configuration.Install.SourceRoot,
		argumentSourceRoot,
	)

	refreshOutcome, refreshError := services.catalogService.Refresh(sourceRoot, false)
	if refreshError != nil {
		if !errors.Is(refreshError, catalog.ErrSparseMetadata) {
			return refreshError
		}
		application.logger.Warn(sparseMetadataWarningMessageConstant,
			zap.String(sourceRootLogFieldConstant, sourceRoot),
			zap.Int(entryCountLogFieldConstant, refreshOutcome.EntryCount),
		)
	}
	if refreshOutcome.WarningCount > 0 {
		application.logger.Debug(sparseMetadataWarningMessageConstant,
			zap.Int(warningCountLogFieldConstant, refreshOutcome.WarningCount),
		)
	}

	application.warnOnMissingVariables(services)

	var prefetchJob *prefetch.Job
	if application.configuration.Prefetch.Enabled {
		startedJob, startError := services.prefetchService.Start(command.Context(), application.configuration.Prefetch.Profiles)
		if startError != nil {
			application.logger.Warn(prefetchStartFailedMessageConstant, zap.Error(startError))
		} else {
			prefetchJob = startedJob
		}
	}

	summary, runError := services.executor.RunDirectory(command.Context(), sourceRoot, runner.BatchOptions{
		Force:     forceFlagValue || application.configuration.Install.Force,
		Variables: application.configuration.Install.Variables,
	})

	if prefetchJob != nil {
		if services.prefetchService.Wait(prefetchJob, application.configuration.Prefetch.WaitTimeout()) == prefetch.JobStatusTimedOut {
			application.logger.Warn(prefetchTimedOutMessageConstant,
				zap.String(jobHandleFieldConstant, prefetchJob.Handle()),
			)
		}
	}

	if runError != nil {
		return runError
	}
	if summary.Failed > 0 {
		return fmt.Errorf(installFailureTemplateConstant, summary.Failed, summary.Total)
	}
	return nil
}

func (application *Application) warnOnMissingVariables(services *commandServices) {
	requiredVariables := services.catalogService.AllRequiredVariables()
	if len(requiredVariables) == 0 {
		return
	}

	missingVariables := make([]string, 0, len(requiredVariables))
	for _, requiredVariable := range requiredVariables {
		if _, configured := application.configuration.Install.Variables[requiredVariable]; !configured {
			missingVariables = append(missingVariables, requiredVariable)
		}
	}
	if len(missingVariables) == 0 {
		return
	}

	sort.Strings(missingVariables)
	application.logger.Warn(missingVariablesWarningMessageConstant,
		zap.Strings(missingVariablesLogFieldConstant, missingVariables),
	)
}
