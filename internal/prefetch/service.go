package prefetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/stackup/internal/execshell"
	"github.com/tyemirov/stackup/internal/utils"
)

const (
	defaultWarmConcurrencyConstant          = 4
	jobLogNameTemplateConstant              = "prefetch-%s.log"
	jobLogPermissionConstant                = 0o644
	serviceLoggerMissingMessageConstant     = "prefetch service logger not provided"
	serviceFileSystemMissingMessageConstant = "prefetch service file system not provided"
	serviceCacheMissingMessageConstant      = "prefetch service cache not provided"
	serviceFetcherMissingMessageConstant    = "prefetch service fetcher not provided"
	serviceLogDirMissingMessageConstant     = "prefetch service log directory not provided"
	fetchTemplateMissingMessageConstant     = "fetch command template not provided"
	fetchTemplatePlaceholderConstant        = "%s"
	fetchTemplateInvalidMessageConstant     = "fetch command template must contain a %s placeholder"
	jobStartedMessageConstant               = "prefetch job started"
	jobFinishedMessageConstant              = "prefetch job finished"
	jobLogUnavailableMessageConstant        = "prefetch job log unavailable; progress lines discarded"
	packageWarmFailedMessageConstant        = "package warm failed"
	jobHandleLogFieldConstant               = "job_handle"
	packageCountLogFieldConstant            = "package_count"
	failedCountLogFieldConstant             = "failed_count"
	progressWarmedLineTemplateConstant      = "%s warmed\n"
	progressCachedLineTemplateConstant      = "%s already cached\n"
	progressFailedLineTemplateConstant      = "%s failed: %s\n"
	cacheDirectoryEnvironmentNameConstant   = "STACKUP_CACHE_DIR"
)

// Fetcher warms the cache entry for one package spec.
type Fetcher interface {
	Fetch(fetchContext context.Context, packageSpec string, cacheDirectory string) error
}

// ShellLineRunner evaluates a command line through the shell.
type ShellLineRunner interface {
	ExecuteShellLine(executionContext context.Context, commandLine string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// CommandFetcher warms packages by running a configured fetch command line.
// The template holds one %s placeholder replaced by the package spec.
type CommandFetcher struct {
	shellRunner          ShellLineRunner
	fetchCommandTemplate string
}

// NewCommandFetcher constructs a CommandFetcher.
func NewCommandFetcher(shellRunner ShellLineRunner, fetchCommandTemplate string) (*CommandFetcher, error) {
	if shellRunner == nil {
		return nil, errors.New(serviceFetcherMissingMessageConstant)
	}
	if len(strings.TrimSpace(fetchCommandTemplate)) == 0 {
		return nil, errors.New(fetchTemplateMissingMessageConstant)
	}
	if !strings.Contains(fetchCommandTemplate, fetchTemplatePlaceholderConstant) {
		return nil, errors.New(fetchTemplateInvalidMessageConstant)
	}
	return &CommandFetcher{shellRunner: shellRunner, fetchCommandTemplate: fetchCommandTemplate}, nil
}

// Fetch runs the fetch command for the package spec inside the cache directory.
func (fetcher *CommandFetcher) Fetch(fetchContext context.Context, packageSpec string, cacheDirectory string) error {
	commandLine := fmt.Sprintf(fetcher.fetchCommandTemplate, packageSpec)
	_, executionError := fetcher.shellRunner.ExecuteShellLine(fetchContext, commandLine, execshell.CommandDetails{
		WorkingDirectory:     cacheDirectory,
		EnvironmentVariables: map[string]string{cacheDirectoryEnvironmentNameConstant: cacheDirectory},
	})
	return executionError
}

// Service owns the background prefetch jobs. Each job runs in its own
// goroutine pool, communicates with the foreground only through its progress
// counters and log file, and never propagates failures to the orchestration
// pipeline.
type Service struct {
	logger          *zap.Logger
	fileSystem      afero.Fs
	cache           *Cache
	fetcher         Fetcher
	manifest        ProfileManifest
	logDirectory    string
	warmConcurrency int
	jobsMutex       sync.Mutex
	jobs            map[string]*Job
}

// NewService constructs a prefetch Service. A non-positive concurrency limit
// falls back to the default of four workers.
func NewService(logger *zap.Logger, fileSystem afero.Fs, cache *Cache, fetcher Fetcher, manifest ProfileManifest, logDirectory string, warmConcurrency int) (*Service, error) {
	if logger == nil {
		return nil, errors.New(serviceLoggerMissingMessageConstant)
	}
	if fileSystem == nil {
		return nil, errors.New(serviceFileSystemMissingMessageConstant)
	}
	if cache == nil {
		return nil, errors.New(serviceCacheMissingMessageConstant)
	}
	if fetcher == nil {
		return nil, errors.New(serviceFetcherMissingMessageConstant)
	}
	if len(strings.TrimSpace(logDirectory)) == 0 {
		return nil, errors.New(serviceLogDirMissingMessageConstant)
	}
	if warmConcurrency <= 0 {
		warmConcurrency = defaultWarmConcurrencyConstant
	}
	return &Service{
		logger:          logger,
		fileSystem:      fileSystem,
		cache:           cache,
		fetcher:         fetcher,
		manifest:        manifest,
		logDirectory:    logDirectory,
		warmConcurrency: warmConcurrency,
		jobs:            make(map[string]*Job),
	}, nil
}

// Start sweeps expired cache entries and launches a background job warming
// every package the enabled flags call for. The returned handle is live
// immediately; the caller may ignore it entirely for fire-and-forget use.
func (service *Service) Start(startContext context.Context, flags FeatureFlags) (*Job, error) {
	packageList := PackagesForFlags(service.manifest, flags)
	service.cache.SweepExpired(service.inFlightSpecs())

	jobHandle := ulid.Make().String()
	jobLogPath := filepath.Join(service.logDirectory, fmt.Sprintf(jobLogNameTemplateConstant, jobHandle))
	jobContext, cancelJob := context.WithCancel(startContext)
	job := newJob(jobHandle, jobLogPath, packageList, cancelJob)

	service.jobsMutex.Lock()
	service.jobs[jobHandle] = job
	service.jobsMutex.Unlock()

	service.logger.Info(jobStartedMessageConstant,
		zap.String(jobHandleLogFieldConstant, jobHandle),
		zap.Int(packageCountLogFieldConstant, len(packageList)),
	)

	go service.runJob(jobContext, job)
	return job, nil
}

// Job resolves a live or finished job by its handle.
func (service *Service) Job(jobHandle string) (*Job, bool) {
	service.jobsMutex.Lock()
	defer service.jobsMutex.Unlock()
	job, found := service.jobs[jobHandle]
	return job, found
}

// IsRunning reports whether the handle names a job that is still warming.
func (service *Service) IsRunning(jobHandle string) bool {
	job, found := service.Job(jobHandle)
	return found && job.IsRunning()
}

// Wait blocks until the job finishes or the timeout elapses. On timeout the
// job is cancelled, the wait drains until its workers stop, and the timed-out
// status is returned.
func (service *Service) Wait(job *Job, timeout time.Duration) JobStatus {
	waitTimer := time.NewTimer(timeout)
	defer waitTimer.Stop()

	select {
	case <-job.done:
		return JobStatusCompleted
	case <-waitTimer.C:
		job.cancel()
		<-job.done
		return JobStatusTimedOut
	}
}

// Purge removes the whole package cache. Safe to call with no job running.
func (service *Service) Purge() error {
	return service.cache.Purge()
}

// CacheSize returns the total bytes held by the package cache.
func (service *Service) CacheSize() (int64, error) {
	return service.cache.Size()
}

func (service *Service) runJob(jobContext context.Context, job *Job) {
	defer close(job.done)
	defer job.cancel()

	progressWriter, closeProgressLog := service.openProgressLog(job.logPath)
	defer closeProgressLog()
	var progressMutex sync.Mutex
	appendProgressLine := func(lineTemplate string, lineArguments ...any) {
		progressMutex.Lock()
		defer progressMutex.Unlock()
		_, _ = fmt.Fprintf(progressWriter, lineTemplate, lineArguments...)
	}

	warmGroup, warmContext := errgroup.WithContext(jobContext)
	warmGroup.SetLimit(service.warmConcurrency)
	for _, packageSpec := range job.packageList {
		packageSpec := packageSpec
		warmGroup.Go(func() error {
			if warmContext.Err() != nil {
				job.failedCount.Add(1)
				appendProgressLine(progressFailedLineTemplateConstant, packageSpec, warmContext.Err().Error())
				return nil
			}
			if service.cache.IsWarm(packageSpec) {
				job.completedCount.Add(1)
				appendProgressLine(progressCachedLineTemplateConstant, packageSpec)
				return nil
			}

			if fetchError := service.fetcher.Fetch(warmContext, packageSpec, service.cache.Directory()); fetchError != nil {
				job.failedCount.Add(1)
				appendProgressLine(progressFailedLineTemplateConstant, packageSpec, fetchError.Error())
				service.logger.Warn(packageWarmFailedMessageConstant,
					zap.String(packageSpecLogFieldConstant, packageSpec),
					zap.Error(fetchError),
				)
				return nil
			}
			if markError := service.cache.MarkWarm(packageSpec); markError != nil {
				job.failedCount.Add(1)
				appendProgressLine(progressFailedLineTemplateConstant, packageSpec, markError.Error())
				return nil
			}

			job.completedCount.Add(1)
			appendProgressLine(progressWarmedLineTemplateConstant, packageSpec)
			return nil
		})
	}
	_ = warmGroup.Wait()

	service.logger.Info(jobFinishedMessageConstant,
		zap.String(jobHandleLogFieldConstant, job.handle),
		zap.Int(packageCountLogFieldConstant, len(job.packageList)),
		zap.Int(failedCountLogFieldConstant, job.FailedCount()),
	)
}

func (service *Service) openProgressLog(jobLogPath string) (io.Writer, func()) {
	if directoryError := service.fileSystem.MkdirAll(service.logDirectory, cacheDirectoryPermissionConstant); directoryError != nil {
		service.logger.Warn(jobLogUnavailableMessageConstant, zap.Error(directoryError))
		return io.Discard, func() {}
	}
	logFile, openError := service.fileSystem.OpenFile(jobLogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, jobLogPermissionConstant)
	if openError != nil {
		service.logger.Warn(jobLogUnavailableMessageConstant, zap.Error(openError))
		return io.Discard, func() {}
	}

	bufferedWriter := bufio.NewWriter(logFile)
	return utils.NewFlushingWriter(bufferedWriter), func() {
		_ = bufferedWriter.Flush()
		_ = logFile.Close()
	}
}

func (service *Service) inFlightSpecs() map[string]struct{} {
	service.jobsMutex.Lock()
	defer service.jobsMutex.Unlock()

	inFlight := make(map[string]struct{})
	for _, job := range service.jobs {
		if !job.IsRunning() {
			continue
		}
		for _, packageSpec := range job.packageList {
			inFlight[packageSpec] = struct{}{}
		}
	}
	return inFlight
}
