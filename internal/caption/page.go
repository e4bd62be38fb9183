package caption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pbaille/taxo/internal/fetcher"
)

// Placeholder marks where the subject goes in a page URL template.
const Placeholder = "{subject}"

// PageCaptioner names subjects after the title of their web page.
type PageCaptioner struct {
	template string
	fetcher  *fetcher.Fetcher
	log      *slog.Logger
}

// NewPageCaptioner returns a captioner that fetches template with
// Placeholder replaced by the subject.
func NewPageCaptioner(template string, log *slog.Logger) (*PageCaptioner, error) {
	if !fetcher.IsURL(template) || !strings.Contains(template, Placeholder) {
		return nil, fmt.Errorf("page template %q: want a URL containing %s", template, Placeholder)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PageCaptioner{template: template, fetcher: fetcher.New(), log: log}, nil
}

// Captions fetches one page per subject. A page that cannot be fetched
// yields "" and is logged.
func (pc *PageCaptioner) Captions(ctx context.Context, subjects []string) ([]string, error) {
	out := make([]string, len(subjects))
	for i, s := range subjects {
		if s == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url := strings.ReplaceAll(pc.template, Placeholder, s)
		page, err := pc.fetcher.Fetch(ctx, url)
		if err != nil {
			pc.log.Warn("fetch caption page failed", "subject", s, "url", url, "error", err)
			continue
		}
		out[i] = Clean(page.Title)
	}
	return out, nil
}
