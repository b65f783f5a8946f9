package connectors

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

const websiteMaxChars = 6000

var defaultWebsitePages = []string{"/", "/about"}

// Website reads the target's own homepage and about page.
type Website struct {
	options  *fetch.Options
	renderer fetch.Renderer
	logger   *slog.Logger
}

// NewWebsite creates the website connector. renderer may be nil to disable
// headless rendering of script-heavy pages.
func NewWebsite(options *fetch.Options, renderer fetch.Renderer, logger *slog.Logger) *Website {
	if options == nil {
		options = fetch.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Website{options: options, renderer: renderer, logger: logger}
}

// ID implements Connector
func (w *Website) ID() types.ConnectorID {
	return types.ConnectorWebsite
}

// Fetch implements Connector
func (w *Website) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	base, err := siteRoot(step.Parameters.String("url"))
	if err != nil || base == nil {
		return &Output{}, nil
	}
	pages := step.Parameters.Strings("pages")
	if len(pages) == 0 {
		pages = defaultWebsitePages
	}

	out := &Output{}
	var firstErr error
	seen := make(map[string]bool)
	for _, page := range pages {
		pageURL := base.ResolveReference(&url.URL{Path: page}).String()
		if seen[pageURL] {
			continue
		}
		seen[pageURL] = true

		sn, err := w.page(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Debug("website page fetch failed", "url", pageURL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if sn != nil {
			out.Snippets = append(out.Snippets, *sn)
		}
	}
	if len(out.Snippets) == 0 && firstErr != nil && !isNoData(firstErr) {
		return nil, wrapError(types.ConnectorWebsite, "site fetch", firstErr)
	}
	return out, nil
}

func (w *Website) page(ctx context.Context, pageURL string) (*types.Snippet, error) {
	res, err := fetch.URL(ctx, pageURL, w.options)
	if err != nil {
		return nil, err
	}
	html := res.HTML
	text, err := fetch.ExtractMainText(html, fetch.CompanyPageSelectors())
	if err != nil {
		return nil, err
	}

	if w.renderer != nil && fetch.ShouldUseBrowser(text) {
		rendered, rerr := w.renderer.Render(ctx, pageURL)
		if rerr != nil {
			w.logger.Debug("browser render failed, keeping static text", "url", pageURL, "error", rerr)
		} else if rtext, xerr := fetch.ExtractMainText(rendered, fetch.CompanyPageSelectors()); xerr == nil && len(rtext) > len(text) {
			html, text = rendered, rtext
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return &types.Snippet{
		Provider: types.ProviderWebsite,
		Title:    firstNonEmpty(fetch.ExtractTitle(html), pageURL),
		URL:      pageURL,
		Text:     truncate(text, websiteMaxChars),
	}, nil
}

// siteRoot turns "stripe.com" or "https://stripe.com/pricing" into "https://stripe.com/".
func siteRoot(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, nil
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}

var _ Connector = (*Website)(nil)
