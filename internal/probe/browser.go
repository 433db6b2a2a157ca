package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// Browser drives a real Chrome through the search form, for portals that
// render results with JavaScript and defeat a plain form POST. On Found it
// captures a full-page screenshot as evidence. headless=false keeps the
// browser window visible, which helps when the form markup changes.
type Browser struct {
	ArtifactDir string
	Timeout     time.Duration
}

func NewBrowser(timeout time.Duration, artifactDir string) *Browser {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Browser{ArtifactDir: artifactDir, Timeout: timeout}
}

// settleDelay gives the portal time to render results after submit.
const settleDelay = 2 * time.Second

func (b *Browser) Search(ctx context.Context, params domain.SearchParams, headless bool) Outcome {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	tasks := chromedp.Tasks{
		chromedp.Navigate(params.FormURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	for name, value := range params.Fields {
		sel := fmt.Sprintf(`[name=%q]`, name)
		tasks = append(tasks, chromedp.SendKeys(sel, value, chromedp.ByQuery))
	}
	tasks = append(tasks,
		chromedp.Click(`[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	)

	var page string
	tasks = append(tasks, chromedp.OuterHTML("html", &page, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Outcome{Result: Failed, Message: "browser search failed", Err: err}
	}

	out := classify(params, page)
	if out.Result == Found {
		var shot []byte
		if err := chromedp.Run(taskCtx, chromedp.FullScreenshot(&shot, 90)); err == nil {
			// Evidence is best-effort.
			if ref, err := saveArtifact(b.ArtifactDir, ".png", shot); err == nil {
				out.ArtifactRef = ref
			}
		}
	}
	return out
}
