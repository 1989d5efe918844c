package classifier

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	homepageUserAgent = "territory-intel/1.0"
	maxHomepageBytes  = 512 * 1024
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style.*?>.*?</style>`)
	tagRe    = regexp.MustCompile(`(?s)<.*?>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// HomepageFetcher downloads a single page of website text for prompt
// context. Failures are expected and non-fatal; callers classify without
// homepage text when the fetch errors.
type HomepageFetcher struct {
	http     *http.Client
	maxChars int
}

// NewHomepageFetcher creates a fetcher with the given timeout and text cap.
func NewHomepageFetcher(timeout time.Duration, maxChars int) *HomepageFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &HomepageFetcher{
		http:     &http.Client{Timeout: timeout},
		maxChars: maxChars,
	}
}

// Fetch returns the visible text of the page at url, capped at maxChars.
func (f *HomepageFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrap(err, "homepage: create request")
	}
	req.Header.Set("User-Agent", homepageUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "homepage: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("homepage: unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHomepageBytes))
	if err != nil {
		return "", eris.Wrap(err, "homepage: read body")
	}

	text := htmlToText(string(body))
	return truncateRunes(text, f.maxChars), nil
}

// htmlToText strips scripts, styles, and tags, then collapses whitespace.
// Deliberately crude: the classifier needs signal words, not structure.
func htmlToText(html string) string {
	html = scriptRe.ReplaceAllString(html, " ")
	html = styleRe.ReplaceAllString(html, " ")
	text := tagRe.ReplaceAllString(html, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
