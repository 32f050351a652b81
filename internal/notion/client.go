// Package notion adapts the Notion workspace that holds the client registry
// and the time-tracking ledger.
//
// Two databases are consumed: a Clients database carrying per-client billing
// configuration (retainer hours, rates, invoicing customer ID, catalog
// service IDs) and a Time Tracking database with one row per logged work
// session. Both are read-only inputs; this package never writes to Notion.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/pkg/models"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"
)

// Client talks to the Notion REST API.
type Client struct {
	baseURL     string
	token       string
	clientsDB   string
	timeDB      string
	httpClient  *http.Client
	log         zerolog.Logger
	titleLookup map[string]string // page ID -> client name, cached per run
}

// NewClient creates a Notion client for the given databases.
func NewClient(token, clientsDB, timeDB string) *Client {
	return &Client{
		baseURL:     defaultBaseURL,
		token:       token,
		clientsDB:   clientsDB,
		timeDB:      timeDB,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         logger.WithComponent("notion"),
		titleLookup: make(map[string]string),
	}
}

// NewClientWithBaseURL is NewClient with an overridable endpoint, for tests.
func NewClientWithBaseURL(baseURL, token, clientsDB, timeDB string) *Client {
	c := NewClient(token, clientsDB, timeDB)
	c.baseURL = baseURL
	return c
}

// queryRequest is the body of a database query call.
type queryRequest struct {
	Filter      json.RawMessage `json:"filter,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
}

// queryResponse is one page of database query results.
type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// page is a Notion page with the property shapes this tool reads.
type page struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Properties map[string]property `json:"properties"`
}

type property struct {
	Title       []richText    `json:"title"`
	RichText    []richText    `json:"rich_text"`
	Number      *float64      `json:"number"`
	MultiSelect []selectValue `json:"multi_select"`
	Status      *selectValue  `json:"status"`
	Date        *dateValue    `json:"date"`
	Relation    []relation    `json:"relation"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type selectValue struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

type relation struct {
	ID string `json:"id"`
}

func (p property) plainText() string {
	if len(p.Title) > 0 {
		return p.Title[0].PlainText
	}
	if len(p.RichText) > 0 {
		return p.RichText[0].PlainText
	}
	return ""
}

func (p property) number() float64 {
	if p.Number == nil {
		return 0
	}
	return *p.Number
}

// decimalFromNumber converts a Notion number property to a currency amount.
// Registry rates are whole-or-cent values, well within float64 exactness.
func decimalFromNumber(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n)
}

// ListActiveClients returns the billing configuration of every client whose
// registry status is Active. It is the read-only snapshot the run operates
// on; registry edits made after the call do not affect the run.
func (c *Client) ListActiveClients(ctx context.Context) ([]models.ClientConfig, error) {
	filter := json.RawMessage(`{"property":"Client Status","status":{"equals":"Active"}}`)

	pages, err := c.queryAll(ctx, c.clientsDB, filter)
	if err != nil {
		return nil, fmt.Errorf("list active clients: %w", err)
	}

	clients := make([]models.ClientConfig, 0, len(pages))
	for _, pg := range pages {
		cfg := models.ClientConfig{
			Name:                 pg.Properties["Name"].plainText(),
			ClientID:             pg.ID,
			PageURL:              pg.URL,
			CustomerRef:          pg.Properties["QB Customer ID"].plainText(),
			MonthlyRetainerHours: pg.Properties["Monthly Retainer Hours"].number(),
			RetainerRate:         decimalFromNumber(pg.Properties["Retainer Rate"].number()),
			OverageRate:          decimalFromNumber(pg.Properties["Overage Rate"].number()),
			OverageServiceRef:    pg.Properties["Overage SKU"].plainText(),
		}

		// Multi-select order is the configured billing order.
		for _, item := range pg.Properties["Retainer Service IDs"].MultiSelect {
			if item.Name != "" {
				cfg.RetainerServiceRefs = append(cfg.RetainerServiceRefs, item.Name)
			}
		}

		c.titleLookup[pg.ID] = cfg.Name
		clients = append(clients, cfg)

		c.log.Debug().
			Str("client", cfg.Name).
			Float64("retainer_hours", cfg.MonthlyRetainerHours).
			Str("overage_rate", cfg.OverageRate.String()).
			Strs("retainer_services", cfg.RetainerServiceRefs).
			Msg("Loaded client configuration")
	}

	c.log.Info().Int("clients", len(clients)).Msg("Active client configurations loaded")
	return clients, nil
}

// FetchTimeEntries returns every time entry logged in [start, end], plus a
// warning per entry whose client could not be determined. Unattributable
// entries are surfaced, never silently dropped.
func (c *Client) FetchTimeEntries(ctx context.Context, start, end time.Time) ([]models.TimeEntry, []string, error) {
	filter := json.RawMessage(fmt.Sprintf(
		`{"and":[{"property":"Date","date":{"on_or_after":%q}},{"property":"Date","date":{"on_or_before":%q}}]}`,
		start.Format("2006-01-02"), end.Format("2006-01-02")))

	pages, err := c.queryAll(ctx, c.timeDB, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch time entries: %w", err)
	}

	var entries []models.TimeEntry
	var warnings []string

	for _, pg := range pages {
		title := pg.Properties["Title"].plainText()

		name, err := c.resolveClientName(ctx, pg, title)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("time entry %q: %v", title, err))
			continue
		}

		entry := models.TimeEntry{
			ClientName:  name,
			Hours:       pg.Properties["Hours"].number(),
			Description: pg.Properties["Description"].plainText(),
		}
		if d := pg.Properties["Date"].Date; d != nil && d.Start != "" {
			// Date may carry a time component; keep the day.
			if t, err := time.Parse("2006-01-02", d.Start[:min(10, len(d.Start))]); err == nil {
				entry.Date = t
			}
		}

		entries = append(entries, entry)
	}

	c.log.Info().
		Int("entries", len(entries)).
		Int("unattributed", len(warnings)).
		Msg("Time entries fetched")

	return entries, warnings, nil
}

// resolveClientName determines which client a time entry belongs to, first
// via the Client relation (resolving the related page's title), then by
// falling back to parsing "work for X" out of the entry title.
func (c *Client) resolveClientName(ctx context.Context, pg page, title string) (string, error) {
	if rel := pg.Properties["Client"].Relation; len(rel) > 0 {
		if name, ok := c.titleLookup[rel[0].ID]; ok {
			return name, nil
		}
		name, err := c.fetchPageTitle(ctx, rel[0].ID)
		if err != nil {
			return "", fmt.Errorf("resolving client relation %s: %w", rel[0].ID, err)
		}
		c.titleLookup[rel[0].ID] = name
		return name, nil
	}

	if name := clientFromTitle(title, c.titleLookup); name != "" {
		return name, nil
	}

	return "", fmt.Errorf("no client relation and title does not name a known client")
}

// clientFromTitle extracts a client name from titles like "work for ABA",
// matched case-insensitively against the known client names.
func clientFromTitle(title string, known map[string]string) string {
	lower := strings.ToLower(title)
	for _, name := range known {
		if name != "" && strings.Contains(lower, "for "+strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

// fetchPageTitle retrieves a page and returns its Name title property.
func (c *Client) fetchPageTitle(ctx context.Context, pageID string) (string, error) {
	var pg page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, &pg); err != nil {
		return "", err
	}

	name := pg.Properties["Name"].plainText()
	if name == "" {
		return "", fmt.Errorf("page %s has no Name title", pageID)
	}
	return name, nil
}

// queryAll runs a database query and follows pagination cursors to the end.
func (c *Client) queryAll(ctx context.Context, databaseID string, filter json.RawMessage) ([]page, error) {
	var pages []page
	cursor := ""

	for {
		var resp queryResponse
		body := queryRequest{Filter: filter, StartCursor: cursor}
		if err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", body, &resp); err != nil {
			return nil, err
		}

		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notion API %s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
