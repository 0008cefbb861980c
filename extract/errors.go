package extract

import (
	"fmt"
	"strings"
)

// AttemptResult records the outcome of one extraction attempt for the
// session report. Err is nil on the successful attempt.
type AttemptResult struct {
	Tier       Tier
	Screenshot bool
	Err        error
}

func (a AttemptResult) String() string {
	label := string(a.Tier)
	if a.Screenshot {
		label += "+screenshot"
	}
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", label, a.Err)
	}
	return label + ": ok"
}

// ExtractionFailure reports that no attempt in the plan produced a usable
// record for a URL. It carries the full attempt history and is recorded per
// URL, never fatal to the batch.
type ExtractionFailure struct {
	URL      string
	Attempts []AttemptResult
}

func (e *ExtractionFailure) Error() string {
	history := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		history[i] = a.String()
	}
	return fmt.Sprintf("extract %s: all %d attempts failed [%s]", e.URL, len(e.Attempts), strings.Join(history, "; "))
}
