package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	defaultFreshnessWindowConstant        = time.Hour
	taskFileSuffixConstant                = ".sh"
	loggerMissingMessageConstant          = "task catalog logger not provided"
	fileSystemMissingMessageConstant      = "task catalog file system not provided"
	indexPathMissingMessageConstant       = "task catalog index path not provided"
	sourceRootMissingTemplateConstant     = "task source root %s is not readable: %w"
	sourceRootWalkErrorTemplateConstant   = "unable to walk task source root: %w"
	sparseMetadataMessageConstant         = "more than half of discovered tasks declare no required variables"
	indexReusedMessageConstant            = "task index reused within freshness window"
	indexRebuiltMessageConstant           = "task index rebuilt"
	taskFileUnreadableMessageConstant     = "task file unreadable; skipping"
	taskMetadataWarningMessageConstant    = "task metadata warning"
	indexPathLogFieldConstant             = "index_path"
	indexAgeLogFieldConstant              = "index_age"
	sourceRootLogFieldConstant            = "source_root"
	taskPathLogFieldConstant              = "task_path"
	entryCountLogFieldConstant            = "entry_count"
	warningCountLogFieldConstant          = "warning_count"
	warningLogFieldConstant               = "warning"
	taskNotIndexedErrorTemplateConstant   = "task %s is not present in the catalog index"
	taskFileReadErrorTemplateConstant     = "unable to read task file %s: %w"
)

// ErrSparseMetadata signals that most discovered tasks lack required-variable
// declarations. The returned counts remain valid; callers may log and continue.
var ErrSparseMetadata = errors.New(sparseMetadataMessageConstant)

// RefreshOutcome reports the effect of a catalog refresh.
type RefreshOutcome struct {
	EntryCount   int
	WarningCount int
	Rebuilt      bool
}

// Service indexes task source trees and answers catalog queries.
type Service struct {
	logger          *zap.Logger
	fileSystem      afero.Fs
	indexFilePath   string
	freshnessWindow time.Duration
	entries         []IndexEntry
}

// NewService constructs a catalog Service persisting its index at indexFilePath.
// A non-positive freshness window falls back to the one-hour default.
func NewService(logger *zap.Logger, fileSystem afero.Fs, indexFilePath string, freshnessWindow time.Duration) (*Service, error) {
	if logger == nil {
		return nil, errors.New(loggerMissingMessageConstant)
	}
	if fileSystem == nil {
		return nil, errors.New(fileSystemMissingMessageConstant)
	}
	if len(strings.TrimSpace(indexFilePath)) == 0 {
		return nil, errors.New(indexPathMissingMessageConstant)
	}
	if freshnessWindow <= 0 {
		freshnessWindow = defaultFreshnessWindowConstant
	}
	return &Service{
		logger:          logger,
		fileSystem:      fileSystem,
		indexFilePath:   indexFilePath,
		freshnessWindow: freshnessWindow,
	}, nil
}

// Refresh rebuilds the task index from the source tree. The rebuild is skipped
// and the persisted index reused when it is younger than the freshness window,
// unless force is set. A missing source root is a hard failure; per-file read
// errors and malformed metadata degrade to warnings.
func (service *Service) Refresh(sourceRoot string, force bool) (RefreshOutcome, error) {
	if !force {
		if reusedOutcome, reused := service.reuseFreshIndex(); reused {
			return reusedOutcome, nil
		}
	}

	rootInfo, rootError := service.fileSystem.Stat(sourceRoot)
	if rootError != nil || !rootInfo.IsDir() {
		if rootError == nil {
			rootError = errors.New("not a directory")
		}
		return RefreshOutcome{}, fmt.Errorf(sourceRootMissingTemplateConstant, sourceRoot, rootError)
	}

	entries := make([]IndexEntry, 0)
	warningCount := 0
	tasksWithoutRequiredVariables := 0

	walkError := afero.Walk(service.fileSystem, sourceRoot, func(candidatePath string, fileInfo fs.FileInfo, visitError error) error {
		if visitError != nil {
			warningCount++
			service.logger.Warn(taskFileUnreadableMessageConstant,
				zap.String(taskPathLogFieldConstant, candidatePath),
				zap.Error(visitError),
			)
			if fileInfo != nil && fileInfo.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fileInfo.IsDir() || !strings.HasSuffix(fileInfo.Name(), taskFileSuffixConstant) {
			return nil
		}

		relativePath, relativeError := filepath.Rel(sourceRoot, candidatePath)
		if relativeError != nil {
			relativePath = candidatePath
		}

		taskFile, openError := service.fileSystem.Open(candidatePath)
		if openError != nil {
			warningCount++
			service.logger.Warn(taskFileUnreadableMessageConstant,
				zap.String(taskPathLogFieldConstant, relativePath),
				zap.Error(openError),
			)
			return nil
		}
		task, taskWarnings := ParseTaskMetadata(relativePath, taskFile)
		_ = taskFile.Close()

		for _, taskWarning := range taskWarnings {
			warningCount++
			service.logger.Warn(taskMetadataWarningMessageConstant, zap.String(warningLogFieldConstant, taskWarning))
		}
		if len(task.RequiredVariables) == 0 {
			tasksWithoutRequiredVariables++
		}

		entries = append(entries, indexEntryFromTask(task))
		return nil
	})
	if walkError != nil {
		return RefreshOutcome{}, fmt.Errorf(sourceRootWalkErrorTemplateConstant, walkError)
	}

	if writeError := writeIndexFile(service.fileSystem, service.indexFilePath, entries); writeError != nil {
		return RefreshOutcome{}, writeError
	}
	service.entries = entries

	outcome := RefreshOutcome{EntryCount: len(entries), WarningCount: warningCount, Rebuilt: true}
	service.logger.Info(indexRebuiltMessageConstant,
		zap.String(sourceRootLogFieldConstant, sourceRoot),
		zap.Int(entryCountLogFieldConstant, outcome.EntryCount),
		zap.Int(warningCountLogFieldConstant, outcome.WarningCount),
	)

	if len(entries) > 0 && tasksWithoutRequiredVariables*2 > len(entries) {
		return outcome, ErrSparseMetadata
	}
	return outcome, nil
}

func (service *Service) reuseFreshIndex() (RefreshOutcome, bool) {
	indexInfo, statError := service.fileSystem.Stat(service.indexFilePath)
	if statError != nil {
		return RefreshOutcome{}, false
	}
	indexAge := time.Since(indexInfo.ModTime())
	if indexAge >= service.freshnessWindow {
		return RefreshOutcome{}, false
	}

	persistedEntries, indexWarnings, readError := readIndexFile(service.fileSystem, service.indexFilePath)
	if readError != nil {
		return RefreshOutcome{}, false
	}
	for _, indexWarning := range indexWarnings {
		service.logger.Warn(taskMetadataWarningMessageConstant, zap.String(warningLogFieldConstant, indexWarning))
	}

	service.entries = persistedEntries
	service.logger.Debug(indexReusedMessageConstant,
		zap.String(indexPathLogFieldConstant, service.indexFilePath),
		zap.Duration(indexAgeLogFieldConstant, indexAge),
	)
	return RefreshOutcome{EntryCount: len(persistedEntries), WarningCount: len(indexWarnings)}, true
}

// Entries returns the indexed entries in discovery order.
func (service *Service) Entries() []IndexEntry {
	return append([]IndexEntry(nil), service.entries...)
}

// EntriesForPhase returns the indexed entries declaring the requested phase.
func (service *Service) EntriesForPhase(phase int) []IndexEntry {
	matching := make([]IndexEntry, 0)
	for _, entry := range service.entries {
		if entry.Phase == phase {
			matching = append(matching, entry)
		}
	}
	return matching
}

// EntriesOrderedByPhase returns all entries sorted by ascending phase. Entries
// without a declared phase sort last; discovery order breaks ties.
func (service *Service) EntriesOrderedByPhase() []IndexEntry {
	ordered := append([]IndexEntry(nil), service.entries...)
	sort.SliceStable(ordered, func(firstIndex int, secondIndex int) bool {
		return phaseSortKey(ordered[firstIndex].Phase) < phaseSortKey(ordered[secondIndex].Phase)
	})
	return ordered
}

// AllRequiredVariables returns the union of required variables across entries, sorted.
func (service *Service) AllRequiredVariables() []string {
	variableSet := make(map[string]struct{})
	for _, entry := range service.entries {
		for _, variableName := range entry.RequiredVariables {
			variableSet[variableName] = struct{}{}
		}
	}
	variables := make([]string, 0, len(variableSet))
	for variableName := range variableSet {
		variables = append(variables, variableName)
	}
	sort.Strings(variables)
	return variables
}

// RequiredVariablesFor returns the required variables declared by one task.
func (service *Service) RequiredVariablesFor(taskPath string) ([]string, bool) {
	for _, entry := range service.entries {
		if entry.Path == taskPath {
			return append([]string(nil), entry.RequiredVariables...), true
		}
	}
	return nil, false
}

// LoadTask re-derives the full task definition from its source file.
func (service *Service) LoadTask(sourceRoot string, taskPath string) (Task, error) {
	indexed := false
	for _, entry := range service.entries {
		if entry.Path == taskPath {
			indexed = true
			break
		}
	}
	if !indexed {
		return Task{}, fmt.Errorf(taskNotIndexedErrorTemplateConstant, taskPath)
	}

	taskFile, openError := service.fileSystem.Open(filepath.Join(sourceRoot, taskPath))
	if openError != nil {
		return Task{}, fmt.Errorf(taskFileReadErrorTemplateConstant, taskPath, openError)
	}
	defer func() { _ = taskFile.Close() }()

	task, _ := ParseTaskMetadata(taskPath, taskFile)
	return task, nil
}

func phaseSortKey(phase int) int {
	if phase == PhaseUnknown {
		return int(^uint(0) >> 1)
	}
	return phase
}
