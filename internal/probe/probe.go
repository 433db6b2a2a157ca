// Package probe performs one vacancy-search attempt against the external
// housing form and classifies the result page.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// Result classifies one search attempt.
type Result int

const (
	NotFound Result = iota
	Found
	Failed
)

func (r Result) String() string {
	switch r {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Outcome is the unified result of a single search attempt.
//
// ArtifactRef points at captured evidence (page snapshot or screenshot) and
// is set on Found when capture succeeded; evidence is best-effort and a
// vacancy without it still counts. Err is set only when Result is Failed;
// probers never surface faults any other way.
type Outcome struct {
	Result      Result
	Message     string
	ArtifactRef string
	Err         error
}

// Prober submits the configured search once and classifies the response.
// headless only matters to browser-driven probers.
type Prober interface {
	Search(ctx context.Context, params domain.SearchParams, headless bool) Outcome
}

var errNoMarker = errors.New("no marker matched")

// classify maps a result page onto the three-way outcome using the
// configured marker strings. An unrecognized page is a failure, never a
// silent not-found.
func classify(params domain.SearchParams, page string) Outcome {
	lower := strings.ToLower(page)
	if m := firstMarker(lower, params.FoundMarkers); m != "" {
		return Outcome{Result: Found, Message: fmt.Sprintf("vacancy listed (matched %q)", m)}
	}
	if firstMarker(lower, params.NotFoundMarkers) != "" {
		return Outcome{Result: NotFound, Message: "no vacancies listed"}
	}
	return Outcome{Result: Failed, Message: "result page not recognized", Err: errNoMarker}
}

func firstMarker(page string, markers []string) string {
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(page, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}
