// Package advisor provides retry-delay strategies for throttled feed
// calls. The extractor clamps every answer to its configured bounds, so
// implementations only need to produce a plausible wait.
package advisor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var digits = regexp.MustCompile(`\d+`)

// ParseDelay extracts the first integer from free text and reads it as
// seconds. It fails when the text carries no usable number, in which
// case callers fall back to their default retry time.
func ParseDelay(text string) (time.Duration, error) {
	m := digits.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no numeric delay in %q", text)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("parse delay %q: %w", m, err)
	}
	return time.Duration(n) * time.Second, nil
}

// Exponential is the trivial default strategy: base doubled per attempt.
type Exponential struct {
	Base time.Duration
}

func (e Exponential) SuggestDelay(_ context.Context, attempt int, _ string) (time.Duration, error) {
	if attempt < 1 {
		attempt = 1
	}
	return e.Base * time.Duration(1<<uint(attempt-1)), nil
}
