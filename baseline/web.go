package baseline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/shotdiff/guard"
	"github.com/hazyhaar/shotdiff/shotfile"
)

// Web downloads the published copy of a screenshot from the tutorial site.
type Web struct {
	Locator  shotfile.Locator
	Client   *http.Client
	MaxBytes int64
	// CheckURL vets each download URL. Defaults to guard.ValidateURL.
	CheckURL func(string) error
}

// NewWeb returns a Web source for the given tutorial base URL.
func NewWeb(baseURL string) *Web {
	return &Web{
		Locator:  shotfile.Locator{BaseURL: baseURL},
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: guard.MaxImageBody,
		CheckURL: guard.ValidateURL,
	}
}

// Baseline downloads the published image for path.
func (w *Web) Baseline(ctx context.Context, path string) ([]byte, error) {
	f := w.Locator.Parse(path)
	if f.IsEmpty() {
		return nil, fmt.Errorf("%w: %s is not a tutorial screenshot", ErrBaselineUnavailable, path)
	}
	u := f.URLToDownload()
	check := w.CheckURL
	if check == nil {
		check = guard.ValidateURL
	}
	if err := check(u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaselineUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaselineUnavailable, err)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaselineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s", ErrBaselineUnavailable, u, resp.Status)
	}
	limit := w.MaxBytes
	if limit <= 0 {
		limit = guard.MaxImageBody
	}
	data, err := guard.LimitedReadAll(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaselineUnavailable, err)
	}
	return data, nil
}

// ChangedPaths is not supported: the site has no notion of local changes.
func (w *Web) ChangedPaths(context.Context, string) ([]string, error) {
	return nil, ErrUnsupported
}
