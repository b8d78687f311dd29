package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const (
	stateCommandUseConstant                = "state"
	stateCommandShortDescriptionConstant   = "Inspect and reset durable completion state"
	stateListUseConstant                   = "list"
	stateListShortDescriptionConstant      = "List tasks recorded as successfully completed"
	stateListEmptyMessageConstant          = "No completed tasks recorded\n"
	stateListLineTemplateConstant          = "%s\t%s\n"
	stateClearUseConstant                  = "clear [task]"
	stateClearShortDescriptionConstant     = "Remove completion records so tasks run again"
	stateClearAllFlagNameConstant          = "all"
	stateClearAllFlagUsageConstant         = "Remove every completion record."
	stateClearMissingTargetMessageConstant = "provide a task key or --all"
	stateClearConflictMessageConstant      = "a task key and --all are mutually exclusive"
	stateClearedTemplateConstant           = "Cleared completion record for %s\n"
	stateClearedAllMessageConstant         = "Cleared all completion records\n"
)

func (application *Application) newStateCommand() *cobra.Command {
	stateCommand := &cobra.Command{
		Use:           stateCommandUseConstant,
		Short:         stateCommandShortDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	stateCommand.AddCommand(application.newStateListCommand())
	stateCommand.AddCommand(application.newStateClearCommand())
	return stateCommand
}

func (application *Application) newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:           stateListUseConstant,
		Short:         stateListShortDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}

			completionRecords, listError := services.ledgerStore.ListCompleted()
			if listError != nil {
				return listError
			}
			if len(completionRecords) == 0 {
				fmt.Fprint(command.OutOrStdout(), stateListEmptyMessageConstant)
				return nil
			}
			for _, completionRecord := range completionRecords {
				fmt.Fprintf(
					command.OutOrStdout(),
					stateListLineTemplateConstant,
					completionRecord.TaskKey,
					completionRecord.CompletedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}
}

func (application *Application) newStateClearCommand() *cobra.Command {
	var clearAllFlagValue bool

	clearCommand := &cobra.Command{
		Use:           stateClearUseConstant,
		Short:         stateClearShortDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if clearAllFlagValue && len(arguments) > 0 {
				return errors.New(stateClearConflictMessageConstant)
			}
			if !clearAllFlagValue && len(arguments) == 0 {
				return errors.New(stateClearMissingTargetMessageConstant)
			}

			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}

			if clearAllFlagValue {
				if clearError := services.ledgerStore.ClearAll(); clearError != nil {
					return clearError
				}
				fmt.Fprint(command.OutOrStdout(), stateClearedAllMessageConstant)
				return nil
			}

			if clearError := services.ledgerStore.Clear(arguments[0]); clearError != nil {
				return clearError
			}
			fmt.Fprintf(command.OutOrStdout(), stateClearedTemplateConstant, arguments[0])
			return nil
		},
	}

	clearCommand.Flags().BoolVar(&clearAllFlagValue, stateClearAllFlagNameConstant, false, stateClearAllFlagUsageConstant)
	return clearCommand
}
