package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ajankowski/colloquy/internal/permission"
)

const (
	fetchTimeout  = 20 * time.Second
	maxFetchBytes = 256 * 1024
	userAgent     = "colloquy/1.0"
)

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// FetchWeb retrieves a URL and returns its body with markup stripped.
type FetchWeb struct {
	Client *http.Client
}

func (t FetchWeb) Spec() Spec {
	return Spec{
		Name:        "fetch_web",
		Description: "fetch a URL and return its text content",
		Class:       permission.ClassNetInternet,
		Args:        []ArgSpec{{Name: "url", Required: true}},
	}
}

func (t FetchWeb) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	target := strings.TrimSpace(stringArg(args, "url"))
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &Result{Err: fmt.Sprintf("invalid url %q", target)}, nil
	}
	body, err := t.get(ctx, target)
	if err != nil {
		return &Result{Err: fmt.Sprintf("fetch %s: %v", target, err)}, nil
	}
	return &Result{Output: flattenHTML(body)}, nil
}

func (t FetchWeb) get(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SearchWeb queries the DuckDuckGo lite endpoint and returns the result
// text. It builds on FetchWeb's transport.
type SearchWeb struct {
	Client *http.Client
}

func (t SearchWeb) Spec() Spec {
	return Spec{
		Name:        "search_web",
		Description: "search the web and return result snippets",
		Class:       permission.ClassNetInternet,
		Args:        []ArgSpec{{Name: "query", Required: true}},
	}
}

func (t SearchWeb) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return &Result{Err: "empty query"}, nil
	}
	target := "https://lite.duckduckgo.com/lite/?q=" + url.QueryEscape(query)
	body, err := FetchWeb{Client: t.Client}.get(ctx, target)
	if err != nil {
		return &Result{Err: fmt.Sprintf("search %q: %v", query, err)}, nil
	}
	return &Result{Output: flattenHTML(body)}, nil
}

// flattenHTML drops markup and collapses whitespace so results fit the
// model context.
func flattenHTML(body string) string {
	text := tagRe.ReplaceAllString(body, " ")
	fields := strings.Fields(text)
	out := strings.Join(fields, " ")
	if len(out) > maxFetchBytes/4 {
		out = out[:maxFetchBytes/4] + " ... (truncated)"
	}
	return out
}
