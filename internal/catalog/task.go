package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// PhaseUnknown orders tasks without a declared phase after every declared phase.
	PhaseUnknown = -1
	// DefaultTimeoutSeconds bounds a task attempt when no timeout is declared.
	DefaultTimeoutSeconds = 300
	// DefaultRetries is the number of re-attempts granted when none are declared.
	DefaultRetries = 2

	metadataHeaderLineLimitConstant    = 50
	metadataCommentPrefixConstant      = "#"
	metadataKeyValueSeparatorConstant  = ":"
	metadataListSeparatorConstant      = ","
	metadataPhaseKeyConstant           = "phase"
	metadataRequiredKeyConstant        = "required"
	metadataDependenciesKeyConstant    = "dependencies"
	metadataTimeoutKeyConstant         = "timeout"
	metadataRetriesKeyConstant         = "retries"
	metadataTestKeyConstant            = "test"
	malformedValueWarningTemplate      = "task %s: malformed %s value %q"
	missingRequiredWarningTemplate     = "task %s: no required variables declared"
	missingPhaseWarningTemplateWarning = "task %s: no phase declared"
)

// Task is a discoverable unit of installation work.
type Task struct {
	Path              string
	Phase             int
	RequiredVariables []string
	Dependencies      []string
	TimeoutSeconds    int
	Retries           int
	TestCommand       string
}

// HasDeclaredPhase reports whether the task carries an explicit ordering phase.
func (task Task) HasDeclaredPhase() bool {
	return task.Phase != PhaseUnknown
}

// ParseTaskMetadata extracts task metadata from the header of a task source file.
//
// The header convention covers the first fifty lines: comment lines of the form
// `# Key: value[,value...]` with case-insensitive keys. Malformed values degrade
// to pessimistic defaults and are reported as warnings rather than errors.
func ParseTaskMetadata(taskPath string, source io.Reader) (Task, []string) {
	task := Task{
		Path:           taskPath,
		Phase:          PhaseUnknown,
		TimeoutSeconds: DefaultTimeoutSeconds,
		Retries:        DefaultRetries,
	}
	warnings := make([]string, 0)

	phaseDeclared := false
	lineScanner := bufio.NewScanner(source)
	for lineNumber := 0; lineNumber < metadataHeaderLineLimitConstant && lineScanner.Scan(); lineNumber++ {
		headerKey, headerValue, isHeaderLine := splitHeaderLine(lineScanner.Text())
		if !isHeaderLine {
			continue
		}

		switch headerKey {
		case metadataPhaseKeyConstant:
			parsedPhase, parseError := strconv.Atoi(headerValue)
			if parseError != nil || parsedPhase < 0 {
				warnings = append(warnings, fmt.Sprintf(malformedValueWarningTemplate, taskPath, metadataPhaseKeyConstant, headerValue))
				continue
			}
			task.Phase = parsedPhase
			phaseDeclared = true
		case metadataRequiredKeyConstant:
			task.RequiredVariables = splitListValue(headerValue)
		case metadataDependenciesKeyConstant:
			task.Dependencies = splitListValue(headerValue)
		case metadataTimeoutKeyConstant:
			parsedTimeout, parseError := strconv.Atoi(headerValue)
			if parseError != nil || parsedTimeout <= 0 {
				warnings = append(warnings, fmt.Sprintf(malformedValueWarningTemplate, taskPath, metadataTimeoutKeyConstant, headerValue))
				continue
			}
			task.TimeoutSeconds = parsedTimeout
		case metadataRetriesKeyConstant:
			parsedRetries, parseError := strconv.Atoi(headerValue)
			if parseError != nil || parsedRetries < 0 {
				warnings = append(warnings, fmt.Sprintf(malformedValueWarningTemplate, taskPath, metadataRetriesKeyConstant, headerValue))
				continue
			}
			task.Retries = parsedRetries
		case metadataTestKeyConstant:
			task.TestCommand = headerValue
		}
	}

	if !phaseDeclared {
		warnings = append(warnings, fmt.Sprintf(missingPhaseWarningTemplateWarning, taskPath))
	}
	if len(task.RequiredVariables) == 0 {
		warnings = append(warnings, fmt.Sprintf(missingRequiredWarningTemplate, taskPath))
	}

	return task, warnings
}

func splitHeaderLine(rawLine string) (string, string, bool) {
	trimmedLine := strings.TrimSpace(rawLine)
	if !strings.HasPrefix(trimmedLine, metadataCommentPrefixConstant) {
		return "", "", false
	}
	withoutComment := strings.TrimSpace(strings.TrimPrefix(trimmedLine, metadataCommentPrefixConstant))

	separatorIndex := strings.Index(withoutComment, metadataKeyValueSeparatorConstant)
	if separatorIndex <= 0 {
		return "", "", false
	}

	headerKey := strings.ToLower(strings.TrimSpace(withoutComment[:separatorIndex]))
	headerValue := strings.TrimSpace(withoutComment[separatorIndex+1:])
	switch headerKey {
	case metadataPhaseKeyConstant, metadataRequiredKeyConstant, metadataDependenciesKeyConstant,
		metadataTimeoutKeyConstant, metadataRetriesKeyConstant, metadataTestKeyConstant:
		return headerKey, headerValue, true
	default:
		return "", "", false
	}
}

func splitListValue(rawValue string) []string {
	if len(strings.TrimSpace(rawValue)) == 0 {
		return nil
	}
	parts := strings.Split(rawValue, metadataListSeparatorConstant)
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmedPart := strings.TrimSpace(part)
		if len(trimmedPart) == 0 {
			continue
		}
		values = append(values, trimmedPart)
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
