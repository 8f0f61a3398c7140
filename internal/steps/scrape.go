package steps

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// scrapeMaxBodyBytes bounds how much of a source page is read. Enough for
// head metadata on any real page; keeps a misbehaving server from streaming
// forever.
const scrapeMaxBodyBytes = 1 << 20

// Scraper fetches an item's source page and fills in title and description
// from the page's head metadata when the item lacks them.
type Scraper struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewScraper constructs the scrape step handler.
func NewScraper(httpClient *http.Client, logger *slog.Logger) *Scraper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scraper{httpClient: httpClient, logger: logging.NewComponentLogger(logger, "scrape")}
}

func (s *Scraper) Execute(ctx context.Context, item *workitem.Item) error {
	source := strings.TrimSpace(item.Fields.Get(workitem.FieldSourceURL))
	if source == "" {
		// Normally routed around by the probe branch; nothing to fetch.
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "scrape", "build request", "source_url is not a valid URL", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scrape", "fetch source", "source fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return services.Wrap(
			services.ErrNotFound,
			"scrape",
			"fetch source",
			fmt.Sprintf("source page returned %d; the source_url field needs correcting", resp.StatusCode),
			nil,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrTransient, "scrape", "fetch source",
			fmt.Sprintf("source page returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, scrapeMaxBodyBytes))
	if err != nil {
		return services.Wrap(services.ErrTransient, "scrape", "read source", "reading source page failed", err)
	}

	page := string(body)
	filled := 0
	if strings.TrimSpace(item.Fields.Get(workitem.FieldTitle)) == "" {
		if title := extractTitle(page); title != "" {
			item.Fields.Set(workitem.FieldTitle, title)
			filled++
		}
	}
	if strings.TrimSpace(item.Fields.Get(workitem.FieldDescription)) == "" {
		if desc := extractMetaContent(page, "description"); desc != "" {
			item.Fields.Set(workitem.FieldDescription, desc)
			filled++
		}
	}
	if strings.TrimSpace(item.Fields.Get(workitem.FieldTags)) == "" {
		if keywords := extractMetaContent(page, "keywords"); keywords != "" {
			item.Fields.Set(workitem.FieldTags, keywords)
			filled++
		}
	}

	logging.WithContext(ctx, s.logger).Info("source scraped",
		logging.String("source_url", source),
		logging.Int("fields_filled", filled),
	)
	return nil
}

func (s *Scraper) HealthCheck(ctx context.Context) registry.Health {
	return registry.Healthy("scrape")
}

var (
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagPattern   = regexp.MustCompile(`(?is)<meta\s+[^>]*>`)
	attrPattern  = regexp.MustCompile(`(?i)([a-z-]+)\s*=\s*"([^"]*)"`)
)

func extractTitle(page string) string {
	match := titlePattern.FindStringSubmatch(page)
	if match == nil {
		return ""
	}
	return collapseWhitespace(unescapeEntities(match[1]))
}

// extractMetaContent pulls the content attribute of a <meta name=...> tag.
func extractMetaContent(page, name string) string {
	for _, tag := range tagPattern.FindAllString(page, -1) {
		attrs := map[string]string{}
		for _, pair := range attrPattern.FindAllStringSubmatch(tag, -1) {
			attrs[strings.ToLower(pair[1])] = pair[2]
		}
		if strings.EqualFold(attrs["name"], name) || strings.EqualFold(attrs["property"], "og:"+name) {
			if content := collapseWhitespace(unescapeEntities(attrs["content"])); content != "" {
				return content
			}
		}
	}
	return ""
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

func unescapeEntities(value string) string {
	return entityReplacer.Replace(value)
}

func collapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
