package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tyemirov/stackup/internal/catalog"
	"github.com/tyemirov/stackup/internal/execshell"
	"github.com/tyemirov/stackup/internal/ledger"
	"github.com/tyemirov/stackup/internal/prefetch"
	"github.com/tyemirov/stackup/internal/runner"
	"github.com/tyemirov/stackup/pkg/taskrunner"
)

const (
	catalogServiceErrorTemplateConstant   = "unable to initialize task catalog: %w"
	ledgerStoreErrorTemplateConstant      = "unable to initialize completion ledger: %w"
	shellExecutorErrorTemplateConstant    = "unable to initialize shell executor: %w"
	sequencerErrorTemplateConstant        = "unable to initialize task sequencer: %w"
	dependencyRunnerErrorTemplateConstant = "unable to initialize dependency runner: %w"
	batchRunnerErrorTemplateConstant      = "unable to initialize batch runner: %w"
	prefetchCacheErrorTemplateConstant    = "unable to initialize package cache: %w"
	prefetchFetcherErrorTemplateConstant  = "unable to initialize package fetcher: %w"
	prefetchServiceErrorTemplateConstant  = "unable to initialize prefetch service: %w"
	manifestReadErrorTemplateConstant     = "unable to read profile manifest %s: %w"
)

// commandServices bundles the domain services a command execution needs.
type commandServices struct {
	fileSystem      afero.Fs
	artifacts       artifactPaths
	catalogService  *catalog.Service
	ledgerStore     *ledger.Store
	executor        taskrunner.Executor
	prefetchService *prefetch.Service
}

func (application *Application) buildServices(command *cobra.Command) (*commandServices, error) {
	fileSystem := afero.NewOsFs()
	artifacts := resolveArtifactPaths(application.configuration.Common.ProjectRoot)
	installConfiguration := application.configuration.Install
	prefetchConfiguration := application.configuration.Prefetch

	catalogService, catalogError := catalog.NewService(application.logger, fileSystem, artifacts.CatalogIndexPath, installConfiguration.FreshnessWindow())
	if catalogError != nil {
		return nil, fmt.Errorf(catalogServiceErrorTemplateConstant, catalogError)
	}

	ledgerStore, ledgerError := ledger.NewStore(application.logger, fileSystem, artifacts.StateLedgerPath)
	if ledgerError != nil {
		return nil, fmt.Errorf(ledgerStoreErrorTemplateConstant, ledgerError)
	}

	commandRunner := execshell.NewOSCommandRunnerWithGracePeriod(installConfiguration.TerminationGrace())
	shellExecutor, shellExecutorError := execshell.NewShellExecutor(application.logger, commandRunner)
	if shellExecutorError != nil {
		return nil, fmt.Errorf(shellExecutorErrorTemplateConstant, shellExecutorError)
	}

	sequencer, sequencerError := runner.NewSequencer(application.logger, shellExecutor, installConfiguration.RetryDelay())
	if sequencerError != nil {
		return nil, fmt.Errorf(sequencerErrorTemplateConstant, sequencerError)
	}

	dependencyRunner, dependencyRunnerError := runner.NewDependencyRunner(application.logger, sequencer)
	if dependencyRunnerError != nil {
		return nil, fmt.Errorf(dependencyRunnerErrorTemplateConstant, dependencyRunnerError)
	}

	batchRunner, batchRunnerError := runner.NewBatchRunner(application.logger, dependencyRunner, ledgerStore, catalogService)
	if batchRunnerError != nil {
		return nil, fmt.Errorf(batchRunnerErrorTemplateConstant, batchRunnerError)
	}

	executor := taskrunner.Resolve(nil, taskrunner.Dependencies{
		Logger:         application.logger,
		BatchRunner:    batchRunner,
		Output:         command.OutOrStdout(),
		Errors:         command.ErrOrStderr(),
		DisableSummary: installConfiguration.DisableSummary,
	})

	packageCache, cacheError := prefetch.NewCache(application.logger, fileSystem, artifacts.CacheDirectory, prefetchConfiguration.CacheMaxAge())
	if cacheError != nil {
		return nil, fmt.Errorf(prefetchCacheErrorTemplateConstant, cacheError)
	}

	packageFetcher, fetcherError := prefetch.NewCommandFetcher(shellExecutor, prefetchConfiguration.FetchCommand)
	if fetcherError != nil {
		return nil, fmt.Errorf(prefetchFetcherErrorTemplateConstant, fetcherError)
	}

	profileManifest, manifestError := application.loadProfileManifest(fileSystem)
	if manifestError != nil {
		return nil, manifestError
	}

	prefetchService, prefetchError := prefetch.NewService(
		application.logger,
		fileSystem,
		packageCache,
		packageFetcher,
		profileManifest,
		artifacts.JobLogDirectory,
		prefetchConfiguration.Concurrency,
	)
	if prefetchError != nil {
		return nil, fmt.Errorf(prefetchServiceErrorTemplateConstant, prefetchError)
	}

	return &commandServices{
		fileSystem:      fileSystem,
		artifacts:       artifacts,
		catalogService:  catalogService,
		ledgerStore:     ledgerStore,
		executor:        executor,
		prefetchService: prefetchService,
	}, nil
}

func (application *Application) loadProfileManifest(fileSystem afero.Fs) (prefetch.ProfileManifest, error) {
	manifestPath := strings.TrimSpace(application.configuration.Prefetch.ManifestPath)
	if len(manifestPath) == 0 {
		return prefetch.ParseProfileManifest([]byte(embeddedProfileManifestContentConstant))
	}

	manifestContent, readError := afero.ReadFile(fileSystem, manifestPath)
	if readError != nil {
		return nil, fmt.Errorf(manifestReadErrorTemplateConstant, manifestPath, readError)
	}
	return prefetch.ParseProfileManifest(manifestContent)
}
