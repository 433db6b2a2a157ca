package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// maxBodyBytes caps how much of the result page we read; vacancy pages are
// small and anything larger is suspect anyway.
const maxBodyBytes = 4 << 20

// Form submits the search fields as an HTTP form POST and classifies the
// response body by the configured markers. On Found it stores the page
// itself as evidence.
type Form struct {
	Client      *http.Client
	ArtifactDir string
}

func NewForm(timeout time.Duration, artifactDir string) *Form {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Form{
		Client:      &http.Client{Timeout: timeout},
		ArtifactDir: artifactDir,
	}
}

func (f *Form) Search(ctx context.Context, params domain.SearchParams, headless bool) Outcome {
	_ = headless // no UI to hide

	form := url.Values{}
	for k, v := range params.Fields {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.FormURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Result: Failed, Message: "building search request failed", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.Client.Do(req)
	if err != nil {
		return Outcome{Result: Failed, Message: "search request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Outcome{
			Result:  Failed,
			Message: fmt.Sprintf("search returned %s", resp.Status),
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Outcome{Result: Failed, Message: "reading result page failed", Err: err}
	}

	out := classify(params, string(body))
	if out.Result == Found {
		// Evidence is best-effort.
		if ref, err := saveArtifact(f.ArtifactDir, ".html", body); err == nil {
			out.ArtifactRef = ref
		}
	}
	return out
}
