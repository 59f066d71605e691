// Package wiki answers questions from Wikipedia when the corpus cannot.
//
// The client speaks the MediaWiki action API: one search request picks the
// best-matching pages, then each page's lead section is fetched as plain
// text. Pages that refuse to yield an extract fall back to parsed HTML and
// finally to the cleaned search snippet, so a usable summary comes back
// whenever the wiki returned anything at all.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrSearch indicates the wiki lookup itself failed: network, HTTP status,
// API error payload or an undecodable response. A search that simply finds
// nothing is not an error; it yields NoResults.
var ErrSearch = errors.New("wikipedia search failed")

// NoResults is the answer returned when the search matches no pages.
const NoResults = "No good Wikipedia Search Result was found"

// userAgent identifies this client per MediaWiki API etiquette.
const userAgent = "medq/1.0 (https://github.com/sathlab/medq)"

const (
	defaultTopK     = 1
	defaultMaxChars = 1000
	defaultTimeout  = 10 * time.Second
	maxRedirects    = 3
)

// Config configures a Client. Zero values fall back to en.wikipedia.org
// with one page per search and a 1000-character budget.
type Config struct {
	BaseURL  string        // MediaWiki api.php endpoint
	TopK     int           // pages to summarize per search
	MaxChars int           // result budget, counted in runes
	Timeout  time.Duration // per-request HTTP timeout
	Logger   *slog.Logger
}

// Client is a stateless MediaWiki search client, safe for concurrent use.
type Client struct {
	baseURL    string
	topK       int
	maxChars   int
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org/w/api.php"
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid wiki base URL %q", baseURL)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  baseURL,
		topK:     topK,
		maxChars: maxChars,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger: logger,
	}, nil
}

// Search looks the question up and returns a formatted digest:
//
//	Page: <title>
//	Summary: <lead section>
//
// one block per matched page, truncated to the configured budget. When no
// page matches, the NoResults sentinel is returned as the answer.
func (c *Client) Search(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrSearch)
	}

	hits, err := c.search(ctx, question)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		c.logger.Debug("wikipedia search found nothing", "question", question)
		return NoResults, nil
	}

	blocks := make([]string, 0, len(hits))
	for _, hit := range hits {
		summary := c.pageSummary(ctx, hit)
		if summary == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Page: %s\nSummary: %s", hit.Title, summary))
	}
	if len(blocks) == 0 {
		return NoResults, nil
	}

	result := truncateRunes(strings.Join(blocks, "\n\n"), c.maxChars)
	c.logger.Debug("wikipedia search completed",
		"question", question,
		"pages", len(blocks),
		"chars", len(result))
	return result, nil
}

type searchHit struct {
	PageID  int    `json:"pageid"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// search runs list=search and returns the top hits.
func (c *Client) search(ctx context.Context, question string) ([]searchHit, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {question},
		"srlimit":  {strconv.Itoa(c.topK)},
	}

	var resp struct {
		Query struct {
			Search []searchHit `json:"search"`
		} `json:"query"`
	}
	if err := c.makeRequest(ctx, params, &resp); err != nil {
		return nil, err
	}
	return resp.Query.Search, nil
}

// pageSummary resolves the best plain-text summary for one hit, degrading
// from lead-section extract to parsed HTML to the cleaned search snippet.
func (c *Client) pageSummary(ctx context.Context, hit searchHit) string {
	summary, err := c.extract(ctx, hit.PageID)
	if err != nil {
		c.logger.Warn("wikipedia extract unavailable, parsing page HTML",
			"page", hit.Title, "error", err)
	}
	if summary != "" {
		return summary
	}

	summary, err = c.parsePage(ctx, hit.PageID)
	if err != nil {
		c.logger.Warn("wikipedia page parse failed, using search snippet",
			"page", hit.Title, "error", err)
	}
	if summary != "" {
		return summary
	}

	return cleanSnippet(hit.Snippet)
}

// extract fetches the plain-text lead section via prop=extracts.
func (c *Client) extract(ctx context.Context, pageID int) (string, error) {
	params := url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"exintro":     {"1"},
		"pageids":     {strconv.Itoa(pageID)},
	}

	var resp struct {
		Query struct {
			Pages []struct {
				PageID  int    `json:"pageid"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.makeRequest(ctx, params, &resp); err != nil {
		return "", err
	}

	for _, p := range resp.Query.Pages {
		if p.PageID == pageID {
			return strings.TrimSpace(p.Extract), nil
		}
	}
	return "", nil
}

// parsePage fetches rendered page HTML via action=parse and reduces it to
// readable text. Some wikis disable TextExtracts; this path still works.
func (c *Client) parsePage(ctx context.Context, pageID int) (string, error) {
	params := url.Values{
		"action": {"parse"},
		"prop":   {"text"},
		"pageid": {strconv.Itoa(pageID)},
	}

	var resp struct {
		Parse struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"parse"`
	}
	if err := c.makeRequest(ctx, params, &resp); err != nil {
		return "", err
	}
	if resp.Parse.Text == "" {
		return "", nil
	}

	pageURL, _ := url.Parse(c.baseURL)
	article, err := readability.FromReader(strings.NewReader(resp.Parse.Text), pageURL)
	if err != nil {
		return "", fmt.Errorf("reduce page HTML: %w", err)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(article.TextContent), " ")), nil
}

// makeRequest performs one GET against the action API and decodes the
// JSON response into result.
func (c *Client) makeRequest(ctx context.Context, params url.Values, result any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrSearch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrSearch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrSearch, resp.StatusCode, firstLine(body))
	}

	var probe struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSearch, err)
	}
	if probe.Error != nil {
		return fmt.Errorf("%w: %s: %s", ErrSearch, probe.Error.Code, probe.Error.Info)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSearch, err)
	}
	return nil
}

// cleanSnippet strips the search-match markup MediaWiki embeds in snippets.
func cleanSnippet(snippet string) string {
	if snippet == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return strings.TrimSpace(snippet)
	}
	return strings.TrimSpace(doc.Text())
}

// truncateRunes cuts s to at most max runes. Counting runes keeps
// multi-byte text from being split mid-character.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// firstLine trims an error body down to something loggable.
func firstLine(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
