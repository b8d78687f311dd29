package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	successStatusTokenConstant           = "success"
	ledgerKeySeparatorConstant           = "="
	ledgerStatusSeparatorConstant        = ":"
	ledgerLineTemplateConstant           = "%s=%s:%s\n"
	ledgerDirectoryPermissionConstant    = 0o755
	ledgerFilePermissionConstant         = 0o644
	loggerMissingMessageConstant         = "state store logger not provided"
	fileSystemMissingMessageConstant     = "state store file system not provided"
	ledgerPathMissingMessageConstant     = "state store ledger path not provided"
	taskKeyMissingMessageConstant        = "task key not provided"
	ledgerDirectoryErrorTemplateConstant = "unable to create ledger directory: %w"
	ledgerReadErrorTemplateConstant      = "unable to read state ledger: %w"
	ledgerAppendErrorTemplateConstant    = "unable to append to state ledger: %w"
	ledgerRewriteErrorTemplateConstant   = "unable to rewrite state ledger: %w"
	ledgerClearErrorTemplateConstant     = "unable to clear state ledger: %w"
	taskMarkedMessageConstant            = "task completion recorded"
	taskAlreadyMarkedMessageConstant     = "task completion already recorded"
	taskKeyLogFieldConstant              = "task_key"
)

// ErrTaskKeyMissing indicates an operation received a blank task key.
var ErrTaskKeyMissing = errors.New(taskKeyMissingMessageConstant)

// CompletionRecord describes one successful task completion.
type CompletionRecord struct {
	TaskKey     string
	CompletedAt time.Time
}

// Store is an append-based durable ledger of successful task completions.
//
// A missing ledger file is treated as zero completions; the file is created
// lazily on the first successful mark.
type Store struct {
	logger     *zap.Logger
	fileSystem afero.Fs
	ledgerPath string
	clock      func() time.Time
}

// NewStore constructs a Store persisting its ledger at ledgerPath.
func NewStore(logger *zap.Logger, fileSystem afero.Fs, ledgerPath string) (*Store, error) {
	if logger == nil {
		return nil, errors.New(loggerMissingMessageConstant)
	}
	if fileSystem == nil {
		return nil, errors.New(fileSystemMissingMessageConstant)
	}
	if len(strings.TrimSpace(ledgerPath)) == 0 {
		return nil, errors.New(ledgerPathMissingMessageConstant)
	}
	return &Store{
		logger:     logger,
		fileSystem: fileSystem,
		ledgerPath: ledgerPath,
		clock:      time.Now,
	}, nil
}

// MarkSuccess records a successful completion for the task key. Marking an
// already-recorded key is a no-op; the first success row stays authoritative.
func (store *Store) MarkSuccess(taskKey string) error {
	trimmedTaskKey := strings.TrimSpace(taskKey)
	if len(trimmedTaskKey) == 0 {
		return ErrTaskKeyMissing
	}

	alreadyRecorded, lookupError := store.HasSucceeded(trimmedTaskKey)
	if lookupError != nil {
		return lookupError
	}
	if alreadyRecorded {
		store.logger.Debug(taskAlreadyMarkedMessageConstant, zap.String(taskKeyLogFieldConstant, trimmedTaskKey))
		return nil
	}

	if directoryError := store.fileSystem.MkdirAll(filepath.Dir(store.ledgerPath), ledgerDirectoryPermissionConstant); directoryError != nil {
		return fmt.Errorf(ledgerDirectoryErrorTemplateConstant, directoryError)
	}

	ledgerFile, openError := store.fileSystem.OpenFile(store.ledgerPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, ledgerFilePermissionConstant)
	if openError != nil {
		return fmt.Errorf(ledgerAppendErrorTemplateConstant, openError)
	}
	defer func() { _ = ledgerFile.Close() }()

	ledgerLine := fmt.Sprintf(ledgerLineTemplateConstant, trimmedTaskKey, successStatusTokenConstant, store.clock().UTC().Format(time.RFC3339))
	if _, writeError := ledgerFile.WriteString(ledgerLine); writeError != nil {
		return fmt.Errorf(ledgerAppendErrorTemplateConstant, writeError)
	}

	store.logger.Info(taskMarkedMessageConstant, zap.String(taskKeyLogFieldConstant, trimmedTaskKey))
	return nil
}

// HasSucceeded reports whether the task key has a recorded success.
func (store *Store) HasSucceeded(taskKey string) (bool, error) {
	records, readError := store.readRecords()
	if readError != nil {
		return false, readError
	}
	for _, record := range records {
		if record.TaskKey == taskKey {
			return true, nil
		}
	}
	return false, nil
}

// CountCompleted returns the number of recorded completions.
func (store *Store) CountCompleted() (int, error) {
	records, readError := store.readRecords()
	if readError != nil {
		return 0, readError
	}
	return len(records), nil
}

// ListCompleted returns the recorded completions in ledger order.
func (store *Store) ListCompleted() ([]CompletionRecord, error) {
	return store.readRecords()
}

// Clear removes the recorded completion for one task key by rewriting the
// ledger without the matching rows.
func (store *Store) Clear(taskKey string) error {
	trimmedTaskKey := strings.TrimSpace(taskKey)
	if len(trimmedTaskKey) == 0 {
		return ErrTaskKeyMissing
	}

	records, readError := store.readRecords()
	if readError != nil {
		return readError
	}
	if len(records) == 0 {
		return nil
	}

	var rewrittenContent strings.Builder
	for _, record := range records {
		if record.TaskKey == trimmedTaskKey {
			continue
		}
		rewrittenContent.WriteString(fmt.Sprintf(ledgerLineTemplateConstant, record.TaskKey, successStatusTokenConstant, record.CompletedAt.UTC().Format(time.RFC3339)))
	}

	if writeError := afero.WriteFile(store.fileSystem, store.ledgerPath, []byte(rewrittenContent.String()), ledgerFilePermissionConstant); writeError != nil {
		return fmt.Errorf(ledgerRewriteErrorTemplateConstant, writeError)
	}
	return nil
}

// ClearAll deletes the ledger file entirely.
func (store *Store) ClearAll() error {
	removeError := store.fileSystem.Remove(store.ledgerPath)
	if removeError != nil && !errors.Is(removeError, os.ErrNotExist) {
		return fmt.Errorf(ledgerClearErrorTemplateConstant, removeError)
	}
	return nil
}

func (store *Store) readRecords() ([]CompletionRecord, error) {
	ledgerFile, openError := store.fileSystem.Open(store.ledgerPath)
	if openError != nil {
		if errors.Is(openError, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf(ledgerReadErrorTemplateConstant, openError)
	}
	defer func() { _ = ledgerFile.Close() }()

	records := make([]CompletionRecord, 0)
	lineScanner := bufio.NewScanner(ledgerFile)
	for lineScanner.Scan() {
		rawLine := strings.TrimSpace(lineScanner.Text())
		if len(rawLine) == 0 {
			continue
		}

		keySeparatorIndex := strings.LastIndex(rawLine, ledgerKeySeparatorConstant)
		if keySeparatorIndex <= 0 {
			continue
		}
		taskKey := rawLine[:keySeparatorIndex]
		statusAndTimestamp := rawLine[keySeparatorIndex+1:]

		statusSeparatorIndex := strings.Index(statusAndTimestamp, ledgerStatusSeparatorConstant)
		if statusSeparatorIndex <= 0 {
			continue
		}
		if statusAndTimestamp[:statusSeparatorIndex] != successStatusTokenConstant {
			continue
		}

		completedAt, parseError := time.Parse(time.RFC3339, statusAndTimestamp[statusSeparatorIndex+1:])
		if parseError != nil {
			completedAt = time.Time{}
		}
		records = append(records, CompletionRecord{TaskKey: taskKey, CompletedAt: completedAt})
	}
	if scanError := lineScanner.Err(); scanError != nil {
		return nil, fmt.Errorf(ledgerReadErrorTemplateConstant, scanError)
	}

	return records, nil
}
