package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mellonhead/billrun/pkg/models"
)

func TestQueryUnsentDocumentsFiltersSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/company/realm-1/query", r.URL.Path)
		require.Contains(t, r.URL.Query().Get("query"), "CustomerRef = '58'")
		fmt.Fprint(w, `{"QueryResponse": {"Invoice": [
			{"Id": "1", "SyncToken": "0", "DocNumber": "1001", "EmailStatus": "NotSet", "CustomerRef": {"value": "58"}, "TotalAmt": 8000},
			{"Id": "2", "SyncToken": "3", "DocNumber": "1002", "EmailStatus": "EmailSent", "CustomerRef": {"value": "58"}, "TotalAmt": 500},
			{"Id": "3", "SyncToken": "1", "DocNumber": "1003", "EmailStatus": "NeedToSend", "CustomerRef": {"value": "58"}, "TotalAmt": 250}
		]}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, "token", "realm-1")
	docs, err := c.QueryUnsentDocuments(context.Background(), "58")
	require.NoError(t, err)

	require.Len(t, docs, 2)
	require.Equal(t, "1", docs[0].ID)
	require.Equal(t, "3", docs[1].ID)
	require.True(t, docs[0].TotalAmt.Equal(decimal.NewFromInt(8000)))
}

func TestCreateDocumentPayload(t *testing.T) {
	var got struct {
		CustomerRef  refJSON  `json:"CustomerRef"`
		TxnDate      string   `json:"TxnDate"`
		DueDate      string   `json:"DueDate"`
		CustomerMemo memoJSON `json:"CustomerMemo"`
		Line         []struct {
			DetailType          string          `json:"DetailType"`
			Amount              decimal.Decimal `json:"Amount"`
			Description         string          `json:"Description"`
			SalesItemLineDetail struct {
				ItemRef   refJSON         `json:"ItemRef"`
				Qty       float64         `json:"Qty"`
				UnitPrice decimal.Decimal `json:"UnitPrice"`
			} `json:"SalesItemLineDetail"`
		} `json:"Line"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/company/realm-1/invoice", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"Invoice": {"Id": "42", "SyncToken": "0", "DocNumber": "1042", "EmailStatus": "NotSet"}}`)
	}))
	defer server.Close()

	inv := models.ConsolidatedInvoice{
		CustomerRef: "58",
		TxnDate:     time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
		Note:        "run marker",
		Lines: []models.LineItem{
			{
				Kind:        models.LineRetainer,
				ServiceRef:  "19",
				Amount:      decimal.NewFromInt(5000),
				Description: "Services for December 2025",
			},
			{
				Kind:        models.LineOverage,
				ServiceRef:  "24",
				Amount:      decimal.NewFromInt(750),
				Quantity:    5,
				UnitPrice:   decimal.NewFromInt(150),
				Description: "Services for October 2025 (5 hrs overage @ $150/hr)",
			},
		},
	}

	c := NewClientWithBaseURL(server.URL, "token", "realm-1")
	doc, err := c.CreateDocument(context.Background(), inv)
	require.NoError(t, err)
	require.Equal(t, "42", doc.ID)
	require.Equal(t, "1042", doc.DocNumber)
	require.True(t, doc.Unsent())

	require.Equal(t, "58", got.CustomerRef.Value)
	require.Equal(t, "2025-12-15", got.TxnDate)
	require.Equal(t, "2026-01-14", got.DueDate)
	require.Equal(t, "run marker", got.CustomerMemo.Value)
	require.Len(t, got.Line, 2)

	retainer := got.Line[0]
	require.Equal(t, "SalesItemLineDetail", retainer.DetailType)
	require.Equal(t, "19", retainer.SalesItemLineDetail.ItemRef.Value)
	require.Equal(t, 1.0, retainer.SalesItemLineDetail.Qty)
	require.True(t, retainer.SalesItemLineDetail.UnitPrice.Equal(decimal.NewFromInt(5000)))

	overage := got.Line[1]
	require.Equal(t, "24", overage.SalesItemLineDetail.ItemRef.Value)
	require.Equal(t, 5.0, overage.SalesItemLineDetail.Qty)
	require.True(t, overage.SalesItemLineDetail.UnitPrice.Equal(decimal.NewFromInt(150)))
	require.True(t, overage.Amount.Equal(decimal.NewFromInt(750)))
}

func TestDeleteDocument(t *testing.T) {
	var got invoiceJSON

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/company/realm-1/invoice", r.URL.Path)
		require.Equal(t, "delete", r.URL.Query().Get("operation"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"Invoice": {"Id": "7", "status": "Deleted"}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, "token", "realm-1")
	require.NoError(t, c.DeleteDocument(context.Background(), "7", "2"))
	require.Equal(t, "7", got.ID)
	require.Equal(t, "2", got.SyncToken)
}

func TestPriceOfMemoized(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/v3/company/realm-1/item/19", r.URL.Path)
		fmt.Fprint(w, `{"Item": {"Id": "19", "Name": "AI Advisory", "Active": true, "UnitPrice": 5000}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, "token", "realm-1")

	for n := 0; n < 3; n++ {
		price, err := c.PriceOf(context.Background(), "19")
		require.NoError(t, err)
		require.True(t, price.Equal(decimal.NewFromInt(5000)))
	}
	require.Equal(t, 1, calls)
}

func TestFaultMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("intuit_tid", "tid-123")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"Fault": {"type": "AUTHENTICATION", "Error": [
			{"Message": "message=AuthenticationFailed", "Detail": "Token expired", "code": "3200"}
		]}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, "expired", "realm-1")
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.StatusCode)
	require.Equal(t, "tid-123", apiErr.IntuitTID)
	require.Equal(t, "3200", apiErr.Code)
}

func TestStaleObjectMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"Fault": {"type": "ValidationFault", "Error": [
			{"Message": "Stale Object Error", "Detail": "SyncToken mismatch", "code": "5010"}
		]}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, "token", "realm-1")
	err := c.DeleteDocument(context.Background(), "7", "0")
	require.ErrorIs(t, err, ErrStaleObject)
}
