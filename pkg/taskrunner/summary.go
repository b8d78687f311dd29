package taskrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/tyemirov/stackup/internal/runner"
)

// RenderSummaryLine returns the summary line printed after orchestration
// runs. An empty run renders nothing.
func RenderSummaryLine(summary runner.Summary) string {
	if summary.Total == 0 {
		return ""
	}

	passedPart := fmt.Sprintf("passed=%d", summary.Passed)
	if summary.Passed > 0 {
		passedPart = color.GreenString(passedPart)
	}
	failedPart := fmt.Sprintf("failed=%d", summary.Failed)
	if summary.Failed > 0 {
		failedPart = color.RedString(failedPart)
	}

	skippedCount := 0
	for _, result := range summary.Results {
		if result.Skipped {
			skippedCount++
		}
	}

	parts := []string{
		fmt.Sprintf("Summary: total.tasks=%d", summary.Total),
		passedPart,
		failedPart,
		fmt.Sprintf("skipped=%d", skippedCount),
		fmt.Sprintf("duration_human=%s", humanDuration(summary.Duration)),
		fmt.Sprintf("duration_ms=%d", summary.Duration.Milliseconds()),
	}
	return strings.Join(parts, " ")
}

func humanDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	return duration.Round(time.Millisecond).String()
}
