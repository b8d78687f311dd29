package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tyemirov/stackup/internal/catalog"
)

const (
	catalogCommandUseConstant                 = "catalog"
	catalogCommandShortDescriptionConstant    = "Inspect and rebuild the task catalog"
	catalogRefreshUseConstant                 = "refresh [source-root]"
	catalogRefreshShortDescriptionConstant    = "Rebuild the task index from the source tree"
	catalogRefreshForceFlagUsageConstant      = "Rebuild the index even when it is still fresh."
	catalogRefreshReusedTemplateConstant      = "Catalog reused: %d task(s) indexed\n"
	catalogRefreshRebuiltTemplateConstant     = "Catalog rebuilt: %d task(s) indexed, %d warning(s)\n"
	catalogRefreshSparseNoticeConstant        = "Warning: most tasks declare no required variables\n"
	catalogVarsUseConstant                    = "vars [task]"
	catalogVarsShortDescriptionConstant       = "List required variables declared by catalogued tasks"
	catalogVarsUnknownTaskTemplateConstant    = "task %s is not in the catalog"
	catalogVarsNoneDeclaredTemplateConstant   = "No required variables declared\n"
	catalogVarsRefreshRequiredMessageConstant = "catalog is empty; run catalog refresh first"
)

func (application *Application) newCatalogCommand() *cobra.Command {
	catalogCommand := &cobra.Command{
		Use:           catalogCommandUseConstant,
		Short:         catalogCommandShortDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	catalogCommand.AddCommand(application.newCatalogRefreshCommand())
	catalogCommand.AddCommand(application.newCatalogVarsCommand())
	return catalogCommand
}

func (application *Application) newCatalogRefreshCommand() *cobra.Command {
	var forceFlagValue bool

	refreshCommand := &cobra.Command{
		Use:           catalogRefreshUseConstant,
		Short:         catalogRefreshShortDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
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

			outcome, refreshError := services.catalogService.Refresh(sourceRoot, forceFlagValue)
			sparseMetadata := errors.Is(refreshError, catalog.ErrSparseMetadata)
			if refreshError != nil && !sparseMetadata {
				return refreshError
			}

			if outcome.Rebuilt {
				fmt.Fprintf(command.OutOrStdout(), catalogRefreshRebuiltTemplateConstant, outcome.EntryCount, outcome.WarningCount)
			} else {
				fmt.Fprintf(command.OutOrStdout(), catalogRefreshReusedTemplateConstant, outcome.EntryCount)
			}
			if sparseMetadata {
				fmt.Fprint(command.ErrOrStderr(), catalogRefreshSparseNoticeConstant)
			}
			return nil
		},
	}

	refreshCommand.Flags().BoolVar(&forceFlagValue, forceFlagNameConstant, false, catalogRefreshForceFlagUsageConstant)
	return refreshCommand
}

func (application *Application) newCatalogVarsCommand() *cobra.Command {
	return &cobra.Command{
		Use:           catalogVarsUseConstant,
		Short:         catalogVarsShortDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}

			sourceRoot := resolveSourceRoot(
				application.configuration.Common.ProjectRoot,
				application.configuration.Install.SourceRoot,
				"",
			)
			if _, refreshError := services.catalogService.Refresh(sourceRoot, false); refreshError != nil && !errors.Is(refreshError, catalog.ErrSparseMetadata) {
				return refreshError
			}
			if len(services.catalogService.Entries()) == 0 {
				return errors.New(catalogVarsRefreshRequiredMessageConstant)
			}

			var requiredVariables []string
			if len(arguments) == 0 {
				requiredVariables = services.catalogService.AllRequiredVariables()
			} else {
				taskVariables, found := services.catalogService.RequiredVariablesFor(arguments[0])
				if !found {
					return fmt.Errorf(catalogVarsUnknownTaskTemplateConstant, arguments[0])
				}
				requiredVariables = taskVariables
			}

			if len(requiredVariables) == 0 {
				fmt.Fprint(command.OutOrStdout(), catalogVarsNoneDeclaredTemplateConstant)
				return nil
			}
			for _, requiredVariable := range requiredVariables {
				fmt.Fprintln(command.OutOrStdout(), requiredVariable)
			}
			return nil
		},
	}
}
