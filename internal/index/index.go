// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index implements the Index Client (C2): a single bounded HTTP
// call against the remote preprint index's Atom-like feed, normalized into
// PaperRecord stubs. It never retries — the next scheduler tick is the
// retry — and never fails on "zero hits".
package index

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

// apiBase is the remote preprint index's query endpoint. Declared as a var
// so tests can substitute an httptest server.
var apiBase = "https://export.arxiv.org/api/query"

// DefaultTimeout is the single bounded HTTP call's timeout (spec §5).
const DefaultTimeout = 30 * time.Second

// Client queries the remote preprint index.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient returns a Client whose HTTP client uses DefaultTimeout.
func NewClient(userAgent string) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: DefaultTimeout},
		UserAgent: userAgent,
	}
}

// Search queries the index for at most limit entries matching query under
// mode, preserving index-supplied order. On transport error it returns a
// *pipeline.StageError{Kind: IndexUnavailable}; the caller may treat that as
// zero results and continue. It never errors merely because zero hits were
// found.
func (c *Client) Search(ctx context.Context, query string, mode types.SearchMode, limit int) ([]types.PaperRecord, error) {
	if err := mode.Validate(); err != nil {
		return nil, pipeline.Wrap(pipeline.InvalidConfig, err)
	}

	q := buildQuery(query, mode)
	sortBy, sortOrder := sortParams(mode)

	url := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=%s&sortOrder=%s",
		apiBase, q, limit, sortBy, sortOrder)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.IndexUnavailable, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", c.UserAgent)

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.IndexUnavailable, fmt.Errorf("index request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.Wrap(pipeline.IndexUnavailable, fmt.Errorf("index returned HTTP %d", resp.StatusCode))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, pipeline.Wrap(pipeline.IndexUnavailable, fmt.Errorf("parsing index response: %w", err))
	}

	records := make([]types.PaperRecord, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		id := extractPaperID(entry.ID)
		if id == "" {
			continue
		}

		rec := types.PaperRecord{
			PaperID:  id,
			Title:    strings.TrimSpace(entry.Title),
			Abstract: strings.TrimSpace(entry.Summary),
			Stage:    types.StageNew,
		}

		if entry.PrimaryCategory.Term != "" {
			rec.Categories = append(rec.Categories, entry.PrimaryCategory.Term)
		}
		for _, cat := range entry.Categories {
			if cat.Term != "" && cat.Term != entry.PrimaryCategory.Term {
				rec.Categories = append(rec.Categories, cat.Term)
			}
		}

		for _, a := range entry.Authors {
			rec.Authors = append(rec.Authors, strings.TrimSpace(a.Name))
		}

		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			rec.PublishedDate = t
		}

		for _, l := range entry.Links {
			if strings.Contains(l.Title, "pdf") || strings.HasSuffix(l.Href, ".pdf") {
				rec.PDFURL = l.Href
				break
			}
		}
		if rec.PDFURL == "" {
			rec.PDFURL = "https://arxiv.org/pdf/" + id
		}

		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

// buildQuery appends the date-range clause documented in spec §6 for range
// modes, leaving other modes untouched.
func buildQuery(query string, mode types.SearchMode) string {
	terms := strings.Fields(query)
	q := "all:" + strings.Join(terms, "+")

	switch mode.Kind {
	case types.ModeDateRange:
		q += fmt.Sprintf("+AND+submittedDate:[%d0101*+TO+%d1231*]", mode.StartYear, mode.EndYear)
	case types.ModeAfterYear:
		q += fmt.Sprintf("+AND+submittedDate:[%d0101*+TO+%d1231*]", mode.Year, time.Now().Year())
	}
	return q
}

func sortParams(mode types.SearchMode) (sortBy, sortOrder string) {
	switch mode.Kind {
	case types.ModeMostRelevant:
		return "relevance", "descending"
	case types.ModeRecentlyUpdated:
		return "lastUpdatedDate", "descending"
	default:
		return "submittedDate", "descending"
	}
}

// extractPaperID pulls the stable identifier from the entry's canonical
// <id> URL (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractPaperID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

// Atom feed XML structures for the remote preprint index.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID              string        `xml:"id"`
	Title           string        `xml:"title"`
	Summary         string        `xml:"summary"`
	Published       string        `xml:"published"`
	Authors         []atomAuthor  `xml:"author"`
	PrimaryCategory atomCategory  `xml:"primary_category"`
	Categories      []atomCategory `xml:"category"`
	Links           []atomLink    `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}
