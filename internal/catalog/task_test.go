package catalog_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/stackup/internal/catalog"
)

const (
	taskMetadataSubtestNameTemplateConstant = "%d_%s"
	testTaskPathConstant                    = "10-database.sh"
)

func TestParseTaskMetadata(testInstance *testing.T) {
	testCases := []struct {
		name             string
		header           string
		expectedTask     catalog.Task
		expectedWarnings int
	}{
		{
			name: "full_header",
			header: strings.Join([]string{
				"#!/bin/sh",
				"# Phase: 2",
				"# Required: DB_NAME,DB_USER",
				"# Dependencies: 00-base.sh,05-network.sh",
				"# Timeout: 60",
				"# Retries: 1",
				"# Test: test -S /var/run/db.sock",
				"echo install",
			}, "\n"),
			expectedTask: catalog.Task{
				Path:              testTaskPathConstant,
				Phase:             2,
				RequiredVariables: []string{"DB_NAME", "DB_USER"},
				Dependencies:      []string{"00-base.sh", "05-network.sh"},
				TimeoutSeconds:    60,
				Retries:           1,
				TestCommand:       "test -S /var/run/db.sock",
			},
		},
		{
			name:   "case_insensitive_keys",
			header: "# phase: 7\n# REQUIRED: APP_PORT\n",
			expectedTask: catalog.Task{
				Path:              testTaskPathConstant,
				Phase:             7,
				RequiredVariables: []string{"APP_PORT"},
				TimeoutSeconds:    catalog.DefaultTimeoutSeconds,
				Retries:           catalog.DefaultRetries,
			},
		},
		{
			name:   "missing_metadata_defaults",
			header: "#!/bin/sh\necho install\n",
			expectedTask: catalog.Task{
				Path:           testTaskPathConstant,
				Phase:          catalog.PhaseUnknown,
				TimeoutSeconds: catalog.DefaultTimeoutSeconds,
				Retries:        catalog.DefaultRetries,
			},
			expectedWarnings: 2,
		},
		{
			name:   "malformed_phase_degrades_pessimistically",
			header: "# Phase: soon\n# Required: DB_NAME\n# Timeout: never\n",
			expectedTask: catalog.Task{
				Path:              testTaskPathConstant,
				Phase:             catalog.PhaseUnknown,
				RequiredVariables: []string{"DB_NAME"},
				TimeoutSeconds:    catalog.DefaultTimeoutSeconds,
				Retries:           catalog.DefaultRetries,
			},
			expectedWarnings: 3,
		},
		{
			name:   "negative_phase_degrades_pessimistically",
			header: "# Phase: -1\n# Required: DB_NAME\n",
			expectedTask: catalog.Task{
				Path:              testTaskPathConstant,
				Phase:             catalog.PhaseUnknown,
				RequiredVariables: []string{"DB_NAME"},
				TimeoutSeconds:    catalog.DefaultTimeoutSeconds,
				Retries:           catalog.DefaultRetries,
			},
			expectedWarnings: 2,
		},
		{
			name:   "header_after_line_limit_ignored",
			header: strings.Repeat("echo filler\n", 55) + "# Phase: 3\n# Required: DB_NAME\n",
			expectedTask: catalog.Task{
				Path:           testTaskPathConstant,
				Phase:          catalog.PhaseUnknown,
				TimeoutSeconds: catalog.DefaultTimeoutSeconds,
				Retries:        catalog.DefaultRetries,
			},
			expectedWarnings: 2,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(taskMetadataSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			parsedTask, parseWarnings := catalog.ParseTaskMetadata(testTaskPathConstant, strings.NewReader(testCase.header))
			require.Equal(testInstance, testCase.expectedTask, parsedTask)
			require.Len(testInstance, parseWarnings, testCase.expectedWarnings)
		})
	}
}
