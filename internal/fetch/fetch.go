// Package fetch turns URLs into extracted entities and outlinks. Pages
// are fetched statically, cleaned to text, and run through an LLM
// extraction pass; PDFs take a text-extraction detour and a headless
// browser can be wired in as a fallback for script-heavy pages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"prospector/internal/llm"
	"prospector/internal/logging"
	"prospector/internal/types"
)

const (
	// DefaultChunkSize bounds how many URLs one batch call fetches in
	// parallel.
	DefaultChunkSize = 10

	defaultMaxBodyBytes = 4 << 20
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxRedirects        = 5

	// maxExtractionChars bounds the page text handed to the extraction
	// model.
	maxExtractionChars = 60_000

	// minStaticTextLen is the threshold below which a static fetch is
	// considered empty enough to retry through the renderer.
	minStaticTextLen = 200
)

// Target is one fetch request. RawContent, when a search engine already
// returned the page body, skips the HTTP fetch entirely.
type Target struct {
	URL        string
	RawContent string
}

// Options tunes a Fetcher.
type Options struct {
	ChunkSize    int
	MaxBodyBytes int64
	UserAgent    string
	Timeout      time.Duration
	Model        string
	Renderer     Renderer // optional dynamic fallback
}

// Fetcher fetches pages and extracts entities with an LLM.
type Fetcher struct {
	client   *http.Client
	llm      llm.Client
	opts     Options
	renderer Renderer
}

// New builds a Fetcher. The llm client performs the per-page entity
// extraction.
func New(llmClient llm.Client, opts Options) *Fetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		llm:      llmClient,
		opts:     opts,
		renderer: opts.Renderer,
	}
}

// Batch fetches and extracts all targets, at most ChunkSize in flight
// at once. A failed target yields a PageResult with Failed set; the
// batch itself only fails on context cancellation.
func (f *Fetcher) Batch(ctx context.Context, targets []Target, topic string) []types.PageResult {
	timer := logging.StartTimer(logging.CategoryFetch, "Batch")
	defer timer.StopWithInfo(fmt.Sprintf("%d targets", len(targets)))

	results := make([]types.PageResult, len(targets))
	for start := 0; start < len(targets); start += f.opts.ChunkSize {
		end := start + f.opts.ChunkSize
		if end > len(targets) {
			end = len(targets)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = f.Page(gctx, targets[i], topic)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// Page fetches and extracts a single target.
func (f *Fetcher) Page(ctx context.Context, target Target, topic string) types.PageResult {
	result := types.PageResult{URL: target.URL}

	var pageText string
	var outlinks []string

	switch {
	case target.RawContent != "":
		// Search engine already delivered the body.
		if LooksLikeHTML(target.RawContent) {
			pageText = ExtractText(target.RawContent)
			outlinks = DiscoverLinks(target.RawContent, target.URL)
		} else {
			pageText = target.RawContent
		}
	default:
		body, err := f.download(ctx, target.URL)
		if err != nil {
			logging.Fetch("fetch failed for %s: %v", target.URL, err)
			result.Failed = true
			result.Err = err.Error()
			return result
		}

		if IsPDF(target.URL, body) {
			result.IsPDF = true
			text, err := ExtractPDFText(body)
			if err != nil {
				logging.Fetch("pdf extraction failed for %s: %v", target.URL, err)
				result.Failed = true
				result.Err = err.Error()
				return result
			}
			pageText = text
		} else {
			rawHTML := string(body)
			pageText = ExtractText(rawHTML)
			outlinks = DiscoverLinks(rawHTML, target.URL)

			if len(pageText) < minStaticTextLen && f.renderer != nil {
				if rendered, rerr := f.renderer.Render(ctx, target.URL); rerr == nil {
					logging.FetchDebug("dynamic render used for %s", target.URL)
					pageText = ExtractText(rendered)
					outlinks = DiscoverLinks(rendered, target.URL)
				} else {
					logging.FetchDebug("dynamic render failed for %s: %v", target.URL, rerr)
				}
			}
		}
	}

	result.Markdown = pageText
	result.Outlinks = outlinks

	if strings.TrimSpace(pageText) == "" {
		return result
	}

	entities, cost, err := f.extract(ctx, pageText, target.URL, topic)
	if err != nil {
		logging.Fetch("extraction failed for %s: %v", target.URL, err)
		result.Failed = true
		result.Err = err.Error()
		return result
	}
	result.Entities = entities
	result.Cost = cost
	return result
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) extract(ctx context.Context, pageText, sourceURL, topic string) ([]types.ExtractedEntity, float64, error) {
	text := pageText
	if len(text) > maxExtractionChars {
		text = text[:maxExtractionChars]
	}

	instruction := ExtractionInstruction(topic)
	response, err := f.llm.CompleteWithSystem(ctx, instruction, text)
	if err != nil {
		return nil, 0, fmt.Errorf("extraction call: %w", err)
	}

	cleaned := llm.CleanJSONResponse(response)
	entities := ParseExtraction(cleaned, sourceURL, pageText)
	cost := llm.EstimateCallCost(f.opts.Model, instruction+text, response)
	logging.FetchDebug("extracted %d entities from %s", len(entities), sourceURL)
	return entities, cost, nil
}
