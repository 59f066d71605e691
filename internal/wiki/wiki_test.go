package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

// fakeWiki serves canned MediaWiki action API responses keyed by request
// shape: list=search, prop=extracts and action=parse.
type fakeWiki struct {
	searchJSON  string
	extractJSON string
	parseJSON   string
	status      int
}

func (f *fakeWiki) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			_, _ = io.WriteString(w, f.searchJSON)
		case q.Get("prop") == "extracts":
			_, _ = io.WriteString(w, f.extractJSON)
		case q.Get("action") == "parse":
			_, _ = io.WriteString(w, f.parseJSON)
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestSearch_FormatsExtract(t *testing.T) {
	fake := &fakeWiki{
		searchJSON:  `{"query":{"search":[{"pageid":42,"title":"Peptic ulcer","snippet":"an <span class=\"searchmatch\">ulcer</span> of the stomach"}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":42,"extract":"A peptic ulcer is a sore in the lining of the stomach or duodenum."}]}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	got, err := c.Search(context.Background(), "what is a peptic ulcer")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := "Page: Peptic ulcer\nSummary: A peptic ulcer is a sore in the lining of the stomach or duodenum."
	if got != want {
		t.Errorf("Search() = %q, want %q", got, want)
	}
}

func TestSearch_NoResults(t *testing.T) {
	fake := &fakeWiki{searchJSON: `{"query":{"search":[]}}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	got, err := c.Search(context.Background(), "zxqv nonexistent topic")
	if err != nil {
		t.Fatalf("Search() error = %v, want nil for empty result set", err)
	}
	if got != NoResults {
		t.Errorf("Search() = %q, want %q", got, NoResults)
	}
}

func TestSearch_TruncatesAtRuneBoundary(t *testing.T) {
	// Multi-byte content: byte-wise truncation would split a rune.
	long := strings.Repeat("β-блокатор ", 200)
	fake := &fakeWiki{
		searchJSON:  `{"query":{"search":[{"pageid":7,"title":"Beta blocker","snippet":""}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":7,"extract":"` + long + `"}]}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxChars: 100})
	got, err := c.Search(context.Background(), "beta blockers")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if n := utf8.RuneCountInString(got); n != 100 {
		t.Errorf("Search() returned %d runes, want exactly 100", n)
	}
	if !utf8.ValidString(got) {
		t.Error("Search() returned invalid UTF-8 after truncation")
	}
}

func TestSearch_ShortResultNotTruncated(t *testing.T) {
	fake := &fakeWiki{
		searchJSON:  `{"query":{"search":[{"pageid":7,"title":"Fever","snippet":""}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":7,"extract":"Fever is an elevated body temperature."}]}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxChars: 1000})
	got, err := c.Search(context.Background(), "fever")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !strings.HasSuffix(got, "Fever is an elevated body temperature.") {
		t.Errorf("Search() = %q, want untruncated summary", got)
	}
}

func TestSearch_FallsBackToParsedHTML(t *testing.T) {
	pageHTML := `<div class="mw-parser-output">` +
		`<p>Aspirin, also known as acetylsalicylic acid, is a medication used to reduce pain, fever and inflammation. It is a nonsteroidal anti-inflammatory drug that works by inhibiting cyclooxygenase enzymes, which are responsible for the production of prostaglandins and thromboxanes in the human body.</p>` +
		`<p>Aspirin has been in medical use for well over a century and remains one of the most widely consumed medications in the world, with an estimated forty thousand tonnes produced and consumed each year across the globe.</p>` +
		`<p>In addition to its use as an analgesic and antipyretic, low-dose aspirin is prescribed as an antiplatelet agent for the secondary prevention of heart attacks and strokes in patients with established cardiovascular disease.</p>` +
		`</div>`
	fake := &fakeWiki{
		searchJSON:  `{"query":{"search":[{"pageid":9,"title":"Aspirin","snippet":""}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":9,"extract":""}]}}`,
		parseJSON:   `{"parse":{"title":"Aspirin","pageid":9,"text":` + jsonString(pageHTML) + `}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	got, err := c.Search(context.Background(), "what is aspirin")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !strings.HasPrefix(got, "Page: Aspirin\nSummary: ") {
		t.Errorf("Search() = %q, want Page/Summary format", got)
	}
	if !strings.Contains(got, "acetylsalicylic acid") {
		t.Errorf("Search() = %q, want text recovered from page HTML", got)
	}
}

func TestSearch_FallsBackToSnippet(t *testing.T) {
	fake := &fakeWiki{
		searchJSON:  `{"query":{"search":[{"pageid":3,"title":"Migraine","snippet":"a <span class=\"searchmatch\">migraine</span> is a headache disorder"}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":3,"extract":""}]}}`,
		parseJSON:   `{"parse":{"title":"Migraine","pageid":3,"text":""}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	got, err := c.Search(context.Background(), "migraine")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := "Page: Migraine\nSummary: a migraine is a headache disorder"
	if got != want {
		t.Errorf("Search() = %q, want %q (markup stripped)", got, want)
	}
}

func TestSearch_MultiplePages(t *testing.T) {
	fake := &fakeWiki{
		searchJSON: `{"query":{"search":[
			{"pageid":1,"title":"Fever","snippet":"fever is elevated temperature"},
			{"pageid":2,"title":"Hyperthermia","snippet":"hyperthermia is heat illness"}]}}`,
		extractJSON: `{"query":{"pages":[{"pageid":1,"extract":""},{"pageid":2,"extract":""}]}}`,
		parseJSON:   `{"parse":{"title":"","pageid":0,"text":""}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{TopK: 2, MaxChars: 5000})
	got, err := c.Search(context.Background(), "fever")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	blocks := strings.Split(got, "\n\n")
	if len(blocks) != 2 {
		t.Fatalf("Search() returned %d blocks, want 2: %q", len(blocks), got)
	}
	if !strings.HasPrefix(blocks[0], "Page: Fever\n") || !strings.HasPrefix(blocks[1], "Page: Hyperthermia\n") {
		t.Errorf("Search() blocks out of order: %q", got)
	}
}

func TestSearch_APIError(t *testing.T) {
	fake := &fakeWiki{
		searchJSON: `{"error":{"code":"srsearch-text-disabled","info":"Text search is disabled."}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	_, err := c.Search(context.Background(), "anything")
	if !errors.Is(err, ErrSearch) {
		t.Errorf("Search() error = %v, want ErrSearch", err)
	}
	if err == nil || !strings.Contains(err.Error(), "srsearch-text-disabled") {
		t.Errorf("Search() error = %v, want API error code in message", err)
	}
}

func TestSearch_ServerError(t *testing.T) {
	fake := &fakeWiki{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	if _, err := c.Search(context.Background(), "anything"); !errors.Is(err, ErrSearch) {
		t.Errorf("Search() error = %v, want ErrSearch", err)
	}
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // immediately: connection refused

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Search(context.Background(), "anything"); !errors.Is(err, ErrSearch) {
		t.Errorf("Search() error = %v, want ErrSearch", err)
	}
}

func TestSearch_EmptyQuestion(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Search(context.Background(), "   "); !errors.Is(err, ErrSearch) {
		t.Errorf("Search() error = %v, want ErrSearch", err)
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Error("New() with invalid base URL returned nil error")
	}
}

func TestCleanSnippet(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		want    string
	}{
		{
			name:    "searchmatch markup stripped",
			snippet: `chest <span class="searchmatch">pain</span> radiating to the arm`,
			want:    "chest pain radiating to the arm",
		},
		{name: "plain text unchanged", snippet: "no markup here", want: "no markup here"},
		{name: "empty", snippet: "", want: ""},
		{name: "nested tags", snippet: "<b>bold <i>and italic</i></b> text", want: "bold and italic text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSnippet(tt.snippet); got != tt.want {
				t.Errorf("cleanSnippet(%q) = %q, want %q", tt.snippet, got, tt.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{name: "under budget", s: "short", max: 10, want: "short"},
		{name: "exact budget", s: "12345", max: 5, want: "12345"},
		{name: "over budget", s: "1234567890", max: 5, want: "12345"},
		{name: "multibyte", s: "αβγδε", max: 3, want: "αβγ"},
		{name: "zero budget means unlimited", s: "anything", max: 0, want: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateRunes(tt.s, tt.max); got != tt.want {
				t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
			}
		})
	}
}

// jsonString marshals s as a JSON string literal for response fixtures.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
