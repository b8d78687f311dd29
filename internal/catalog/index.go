package catalog

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	indexFieldSeparatorConstant        = "|"
	indexListSeparatorConstant         = ","
	indexFieldCountConstant            = 4
	indexTemporarySuffixConstant       = ".tmp"
	indexLineTemplateConstant          = "%s|%d|%s|%s\n"
	indexDirectoryPermissionConstant   = 0o755
	indexFilePermissionConstant        = 0o644
	indexDirectoryErrorTemplate        = "unable to create index directory: %w"
	indexWriteErrorTemplateConstant    = "unable to write task index: %w"
	indexRenameErrorTemplateConstant   = "unable to publish task index: %w"
	indexReadErrorTemplateConstant     = "unable to read task index: %w"
	indexMalformedLineTemplateConstant = "task index line %d is malformed"
)

// IndexEntry is the persisted projection of a discovered task.
type IndexEntry struct {
	Path              string
	Phase             int
	RequiredVariables []string
	Dependencies      []string
}

func indexEntryFromTask(task Task) IndexEntry {
	return IndexEntry{
		Path:              task.Path,
		Phase:             task.Phase,
		RequiredVariables: append([]string(nil), task.RequiredVariables...),
		Dependencies:      append([]string(nil), task.Dependencies...),
	}
}

// writeIndexFile publishes the entries atomically: the full index is built in a
// temporary file that is renamed over the live index, so a reader never
// observes a half-written index.
func writeIndexFile(fileSystem afero.Fs, indexFilePath string, entries []IndexEntry) error {
	if directoryError := fileSystem.MkdirAll(filepath.Dir(indexFilePath), indexDirectoryPermissionConstant); directoryError != nil {
		return fmt.Errorf(indexDirectoryErrorTemplate, directoryError)
	}

	var indexContent strings.Builder
	for _, entry := range entries {
		indexContent.WriteString(fmt.Sprintf(
			indexLineTemplateConstant,
			entry.Path,
			entry.Phase,
			strings.Join(entry.RequiredVariables, indexListSeparatorConstant),
			strings.Join(entry.Dependencies, indexListSeparatorConstant),
		))
	}

	temporaryFilePath := indexFilePath + indexTemporarySuffixConstant
	if writeError := afero.WriteFile(fileSystem, temporaryFilePath, []byte(indexContent.String()), indexFilePermissionConstant); writeError != nil {
		return fmt.Errorf(indexWriteErrorTemplateConstant, writeError)
	}
	if renameError := fileSystem.Rename(temporaryFilePath, indexFilePath); renameError != nil {
		_ = fileSystem.Remove(temporaryFilePath)
		return fmt.Errorf(indexRenameErrorTemplateConstant, renameError)
	}
	return nil
}

// readIndexFile loads persisted entries, preserving file order. A malformed
// line degrades to a pessimistic entry rather than aborting the load.
func readIndexFile(fileSystem afero.Fs, indexFilePath string) ([]IndexEntry, []string, error) {
	indexFile, openError := fileSystem.Open(indexFilePath)
	if openError != nil {
		return nil, nil, fmt.Errorf(indexReadErrorTemplateConstant, openError)
	}
	defer func() { _ = indexFile.Close() }()

	entries := make([]IndexEntry, 0)
	warnings := make([]string, 0)

	lineScanner := bufio.NewScanner(indexFile)
	lineNumber := 0
	for lineScanner.Scan() {
		lineNumber++
		rawLine := strings.TrimSpace(lineScanner.Text())
		if len(rawLine) == 0 {
			continue
		}

		fields := strings.Split(rawLine, indexFieldSeparatorConstant)
		if len(fields) != indexFieldCountConstant || len(strings.TrimSpace(fields[0])) == 0 {
			warnings = append(warnings, fmt.Sprintf(indexMalformedLineTemplateConstant, lineNumber))
			continue
		}

		entry := IndexEntry{Path: strings.TrimSpace(fields[0]), Phase: PhaseUnknown}
		if parsedPhase, parseError := strconv.Atoi(strings.TrimSpace(fields[1])); parseError == nil {
			entry.Phase = parsedPhase
		} else {
			warnings = append(warnings, fmt.Sprintf(indexMalformedLineTemplateConstant, lineNumber))
		}
		entry.RequiredVariables = splitListValue(fields[2])
		entry.Dependencies = splitListValue(fields[3])
		entries = append(entries, entry)
	}
	if scanError := lineScanner.Err(); scanError != nil {
		return nil, nil, fmt.Errorf(indexReadErrorTemplateConstant, scanError)
	}

	return entries, warnings, nil
}
