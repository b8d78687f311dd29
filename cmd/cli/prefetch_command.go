package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tyemirov/stackup/internal/prefetch"
)

const (
	prefetchCommandUseConstant              = "prefetch"
	prefetchCommandShortDescriptionConstant = "Warm the package cache for enabled feature profiles"
	prefetchStartUseConstant                = "start"
	prefetchStartShortDescriptionConstant   = "Start a cache warm run for the configured profiles"
	prefetchWaitFlagNameConstant            = "wait"
	prefetchWaitFlagUsageConstant           = "Seconds to wait for the warm run before giving up."
	prefetchStartedTemplateConstant         = "Prefetch job %s started, progress log: %s\n"
	prefetchFinishedTemplateConstant        = "Prefetch job %s finished: %d/%d package(s) processed, %d failed\n"
	prefetchTimedOutTemplateConstant        = "Prefetch job %s timed out after %s\n"
	prefetchProgressUseConstant             = "progress"
	prefetchProgressShortDescription        = "Show the progress log of the most recent warm run"
	prefetchProgressEmptyMessageConstant    = "No prefetch runs recorded\n"
	prefetchPurgeUseConstant                = "purge"
	prefetchPurgeShortDescriptionConstant   = "Delete the package cache"
	prefetchPurgedMessageConstant           = "Package cache purged\n"
	prefetchSizeUseConstant                 = "size"
	prefetchSizeShortDescriptionConstant    = "Report the package cache size in bytes"
	prefetchSizeTemplateConstant            = "Package cache size: %d byte(s)\n"
	jobLogFilePatternConstant               = "prefetch-*.log"
	jobHandleFieldConstant                  = "job_handle"
	unboundedWaitCeilingConstant            = 24 * time.Hour
)

func (application *Application) newPrefetchCommand() *cobra.Command {
	prefetchCommand := &cobra.Command{
		Use:           prefetchCommandUseConstant,
		Short:         prefetchCommandShortDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	prefetchCommand.AddCommand(application.newPrefetchStartCommand())
	prefetchCommand.AddCommand(application.newPrefetchProgressCommand())
	prefetchCommand.AddCommand(application.newPrefetchPurgeCommand())
	prefetchCommand.AddCommand(application.newPrefetchSizeCommand())
	return prefetchCommand
}

func (application *Application) newPrefetchStartCommand() *cobra.Command {
	var waitSecondsFlagValue int

	startCommand := &cobra.Command{
		Use:           prefetchStartUseConstant,
		Short:         prefetchStartShortDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}

			job, startError := services.prefetchService.Start(command.Context(), application.configuration.Prefetch.Profiles)
			if startError != nil {
				return startError
			}
			fmt.Fprintf(command.OutOrStdout(), prefetchStartedTemplateConstant, job.Handle(), job.LogPath())

			waitTimeout := time.Duration(waitSecondsFlagValue) * time.Second
			if !command.Flags().Changed(prefetchWaitFlagNameConstant) {
				waitTimeout = application.configuration.Prefetch.WaitTimeout()
			}
			if waitTimeout <= 0 {
				waitTimeout = unboundedWaitCeilingConstant
			}

			if services.prefetchService.Wait(job, waitTimeout) == prefetch.JobStatusTimedOut {
				fmt.Fprintf(command.OutOrStdout(), prefetchTimedOutTemplateConstant, job.Handle(), waitTimeout)
				return nil
			}

			finishedCount, totalCount := job.Progress()
			fmt.Fprintf(command.OutOrStdout(), prefetchFinishedTemplateConstant, job.Handle(), finishedCount, totalCount, job.FailedCount())
			return nil
		},
	}

	startCommand.Flags().IntVar(&waitSecondsFlagValue, prefetchWaitFlagNameConstant, 0, prefetchWaitFlagUsageConstant)
	return startCommand
}

func (application *Application) newPrefetchProgressCommand() *cobra.Command {
	return &cobra.Command{
		Use:           prefetchProgressUseConstant,
		Short:         prefetchProgressShortDescription,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}

			latestLogPath, found, lookupError := latestJobLogPath(services.fileSystem, services.artifacts.JobLogDirectory)
			if lookupError != nil {
				return lookupError
			}
			if !found {
				fmt.Fprint(command.OutOrStdout(), prefetchProgressEmptyMessageConstant)
				return nil
			}

			logContent, readError := afero.ReadFile(services.fileSystem, latestLogPath)
			if readError != nil {
				return readError
			}
			fmt.Fprint(command.OutOrStdout(), string(logContent))
			return nil
		},
	}
}

func (application *Application) newPrefetchPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:           prefetchPurgeUseConstant,
		Short:         prefetchPurgeShortDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}
			if purgeError := services.prefetchService.Purge(); purgeError != nil {
				return purgeError
			}
			fmt.Fprint(command.OutOrStdout(), prefetchPurgedMessageConstant)
			return nil
		},
	}
}

func (application *Application) newPrefetchSizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:           prefetchSizeUseConstant,
		Short:         prefetchSizeShortDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			services, servicesError := application.buildServices(command)
			if servicesError != nil {
				return servicesError
			}
			cacheSize, sizeError := services.prefetchService.CacheSize()
			if sizeError != nil {
				return sizeError
			}
			fmt.Fprintf(command.OutOrStdout(), prefetchSizeTemplateConstant, cacheSize)
			return nil
		},
	}
}

// latestJobLogPath finds the most recent progress log by ULID-ordered name.
func latestJobLogPath(fileSystem afero.Fs, logDirectory string) (string, bool, error) {
	directoryEntries, readError := afero.ReadDir(fileSystem, logDirectory)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, readError
	}

	logNames := make([]string, 0, len(directoryEntries))
	for _, directoryEntry := range directoryEntries {
		if directoryEntry.IsDir() {
			continue
		}
		matched, matchError := filepath.Match(jobLogFilePatternConstant, directoryEntry.Name())
		if matchError != nil || !matched {
			continue
		}
		logNames = append(logNames, directoryEntry.Name())
	}
	if len(logNames) == 0 {
		return "", false, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(logNames)))
	return filepath.Join(strings.TrimSpace(logDirectory), logNames[0]), true, nil
}
