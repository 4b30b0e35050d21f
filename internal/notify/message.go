package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// FormatFailureTitle creates the notification title for a failing data type.
func FormatFailureTitle(dataType string) string {
	return fmt.Sprintf("Refresh Failing: %s", dataType)
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(dataType string, consecutive int, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Data type: %s\n", dataType))
	sb.WriteString(fmt.Sprintf("Consecutive failures: %s", humanize.Comma(int64(consecutive))))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))

		// Include the first hint if one was attached
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			sb.WriteString(fmt.Sprintf("\nHint: %s", hints[0]))
		}
	}

	return sb.String()
}
