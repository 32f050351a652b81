// Package quickbooks is the invoicing-service adapter. It creates, queries,
// and deletes draft invoice documents and exposes the item catalog that
// prices retainer services.
//
// The service is treated as authoritative and stateless between runs: this
// client caches nothing across calls except the per-run item price memo.
// All requests pass through a shared rate limiter because the API imposes a
// request-rate ceiling that concurrent clients would otherwise trample.
package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/pkg/models"
)

const (
	sandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	productionBaseURL = "https://quickbooks.api.intuit.com"

	// Intuit throttles per realm; 4 req/s with a small burst keeps a
	// bounded worker pool under the shared account cap.
	requestsPerSecond = 4
	requestBurst      = 5
)

func init() {
	// The accounting API expects JSON numbers for amounts, not quoted decimals.
	decimal.MarshalJSONWithoutQuotes = true
}

// Client talks to the QuickBooks Online accounting API for one realm.
type Client struct {
	baseURL    string
	realmID    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu        sync.Mutex
	priceMemo map[string]decimal.Decimal
}

// NewClient creates a client against the sandbox or production environment.
func NewClient(token, realmID string, production bool) *Client {
	baseURL := sandboxBaseURL
	if production {
		baseURL = productionBaseURL
	}
	return newClient(baseURL, token, realmID)
}

// NewClientWithBaseURL is NewClient with an explicit endpoint, for tests.
func NewClientWithBaseURL(baseURL, token, realmID string) *Client {
	return newClient(baseURL, token, realmID)
}

func newClient(baseURL, token, realmID string) *Client {
	return &Client{
		baseURL:    baseURL,
		realmID:    realmID,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		log:        logger.WithComponent("quickbooks"),
		priceMemo:  make(map[string]decimal.Decimal),
	}
}

// wire shapes

type invoiceJSON struct {
	ID           string           `json:"Id,omitempty"`
	SyncToken    string           `json:"SyncToken,omitempty"`
	DocNumber    string           `json:"DocNumber,omitempty"`
	TxnDate      string           `json:"TxnDate,omitempty"`
	DueDate      string           `json:"DueDate,omitempty"`
	EmailStatus  string           `json:"EmailStatus,omitempty"`
	TotalAmt     *decimal.Decimal `json:"TotalAmt,omitempty"`
	CustomerRef  *refJSON         `json:"CustomerRef,omitempty"`
	Line         []lineJSON       `json:"Line,omitempty"`
	CustomerMemo *memoJSON        `json:"CustomerMemo,omitempty"`
}

type refJSON struct {
	Value string `json:"value"`
}

type memoJSON struct {
	Value string `json:"value"`
}

type lineJSON struct {
	DetailType          string          `json:"DetailType"`
	Amount              decimal.Decimal `json:"Amount"`
	Description         string          `json:"Description,omitempty"`
	SalesItemLineDetail *salesDetail    `json:"SalesItemLineDetail,omitempty"`
}

type salesDetail struct {
	ItemRef   refJSON          `json:"ItemRef"`
	Qty       float64          `json:"Qty,omitempty"`
	UnitPrice *decimal.Decimal `json:"UnitPrice,omitempty"`
}

type itemJSON struct {
	ID        string          `json:"Id"`
	Name      string          `json:"Name"`
	Active    bool            `json:"Active"`
	UnitPrice decimal.Decimal `json:"UnitPrice"`
}

type customerJSON struct {
	ID          string `json:"Id"`
	DisplayName string `json:"DisplayName"`
	CompanyName string `json:"CompanyName"`
	Active      bool   `json:"Active"`
}

// Customer is a customer record from the service, for configuration setup.
type Customer struct {
	ID          string
	DisplayName string
	CompanyName string
	Active      bool
}

// Item is a catalog item from the service, for configuration setup.
type Item struct {
	ID        string
	Name      string
	Active    bool
	UnitPrice decimal.Decimal
}

// Ping verifies credentials by fetching the realm's company info.
// An auth failure here aborts the run before any client is processed.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		CompanyInfo struct {
			CompanyName string `json:"CompanyName"`
		} `json:"CompanyInfo"`
	}
	if err := c.do(ctx, "Ping", http.MethodGet, "/v3/company/"+c.realmID+"/companyinfo/"+c.realmID, nil, &out); err != nil {
		return err
	}

	c.log.Info().Str("company", out.CompanyInfo.CompanyName).Msg("Invoicing service connection validated")
	return nil
}

// QueryUnsentDocuments returns every invoice for the customer that has not
// been emailed, regardless of which run created it.
func (c *Client) QueryUnsentDocuments(ctx context.Context, customerRef string) ([]models.Document, error) {
	query := fmt.Sprintf("SELECT * FROM Invoice WHERE CustomerRef = '%s'", strings.ReplaceAll(customerRef, "'", "\\'"))

	var out struct {
		QueryResponse struct {
			Invoice []invoiceJSON `json:"Invoice"`
		} `json:"QueryResponse"`
	}
	if err := c.do(ctx, "QueryUnsentDocuments", http.MethodGet,
		"/v3/company/"+c.realmID+"/query?query="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}

	var docs []models.Document
	for _, inv := range out.QueryResponse.Invoice {
		doc := toDocument(inv)
		if doc.Unsent() {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// DeleteDocument deletes an invoice at the given sync token.
func (c *Client) DeleteDocument(ctx context.Context, id, syncToken string) error {
	body := invoiceJSON{ID: id, SyncToken: syncToken}
	var out json.RawMessage
	return c.do(ctx, "DeleteDocument", http.MethodPost,
		"/v3/company/"+c.realmID+"/invoice?operation=delete", body, &out)
}

// CreateDocument submits a consolidated invoice as a new unsent document.
func (c *Client) CreateDocument(ctx context.Context, inv models.ConsolidatedInvoice) (models.Document, error) {
	payload := invoiceJSON{
		CustomerRef: &refJSON{Value: inv.CustomerRef},
		TxnDate:     inv.TxnDate.Format("2006-01-02"),
		DueDate:     inv.DueDate.Format("2006-01-02"),
		Line:        make([]lineJSON, 0, len(inv.Lines)),
	}
	if inv.Note != "" {
		payload.CustomerMemo = &memoJSON{Value: inv.Note}
	}

	for _, item := range inv.Lines {
		line := lineJSON{
			DetailType:  "SalesItemLineDetail",
			Amount:      item.Amount,
			Description: item.Description,
		}
		switch item.Kind {
		case models.LineOverage:
			price := item.UnitPrice
			line.SalesItemLineDetail = &salesDetail{
				ItemRef:   refJSON{Value: item.ServiceRef},
				Qty:       item.Quantity,
				UnitPrice: &price,
			}
		default:
			price := item.Amount
			line.SalesItemLineDetail = &salesDetail{
				ItemRef:   refJSON{Value: item.ServiceRef},
				Qty:       1,
				UnitPrice: &price,
			}
		}
		payload.Line = append(payload.Line, line)
	}

	var out struct {
		Invoice invoiceJSON `json:"Invoice"`
	}
	if err := c.do(ctx, "CreateDocument", http.MethodPost,
		"/v3/company/"+c.realmID+"/invoice", payload, &out); err != nil {
		return models.Document{}, err
	}

	return toDocument(out.Invoice), nil
}

// PriceOf returns the catalog unit price for a service item, memoized for
// the life of the client so repeated retainer services cost one request.
func (c *Client) PriceOf(ctx context.Context, serviceRef string) (decimal.Decimal, error) {
	c.mu.Lock()
	if price, ok := c.priceMemo[serviceRef]; ok {
		c.mu.Unlock()
		return price, nil
	}
	c.mu.Unlock()

	var out struct {
		Item itemJSON `json:"Item"`
	}
	if err := c.do(ctx, "PriceOf", http.MethodGet,
		"/v3/company/"+c.realmID+"/item/"+url.PathEscape(serviceRef), nil, &out); err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.priceMemo[serviceRef] = out.Item.UnitPrice
	c.mu.Unlock()

	return out.Item.UnitPrice, nil
}

// ListCustomers fetches all customers, for configuration setup.
func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out struct {
		QueryResponse struct {
			Customer []customerJSON `json:"Customer"`
		} `json:"QueryResponse"`
	}
	if err := c.do(ctx, "ListCustomers", http.MethodGet,
		"/v3/company/"+c.realmID+"/query?query="+url.QueryEscape("SELECT * FROM Customer"), nil, &out); err != nil {
		return nil, err
	}

	customers := make([]Customer, 0, len(out.QueryResponse.Customer))
	for _, cust := range out.QueryResponse.Customer {
		customers = append(customers, Customer(cust))
	}
	return customers, nil
}

// ListItems fetches all active catalog items, for configuration setup.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	var out struct {
		QueryResponse struct {
			Item []itemJSON `json:"Item"`
		} `json:"QueryResponse"`
	}
	if err := c.do(ctx, "ListItems", http.MethodGet,
		"/v3/company/"+c.realmID+"/query?query="+url.QueryEscape("SELECT * FROM Item WHERE Active = true"), nil, &out); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(out.QueryResponse.Item))
	for _, item := range out.QueryResponse.Item {
		items = append(items, Item(item))
	}
	return items, nil
}

func toDocument(inv invoiceJSON) models.Document {
	doc := models.Document{
		ID:          inv.ID,
		SyncToken:   inv.SyncToken,
		DocNumber:   inv.DocNumber,
		EmailStatus: inv.EmailStatus,
	}
	if inv.CustomerRef != nil {
		doc.CustomerRef = inv.CustomerRef.Value
	}
	if inv.TotalAmt != nil {
		doc.TotalAmt = *inv.TotalAmt
	}
	return doc
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("quickbooks: %s: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("quickbooks: %s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quickbooks: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var fault faultEnvelope
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		_ = json.Unmarshal(data, &fault)

		apiErr := newAPIError(op, resp.StatusCode, resp.Header.Get("intuit_tid"), fault)
		c.log.Error().
			Int("status", apiErr.StatusCode).
			Str("op", op).
			Str("code", apiErr.Code).
			Str("intuit_tid", apiErr.IntuitTID).
			Msg("Invoicing service request failed")
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
