package run

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mellonhead/billrun/internal/billing"
	"github.com/mellonhead/billrun/pkg/models"
)

type fakeStore struct {
	docs    map[string][]models.Document
	creates []models.ConsolidatedInvoice
	deletes int
	failFor map[string]error
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    make(map[string][]models.Document),
		failFor: make(map[string]error),
	}
}

func (s *fakeStore) QueryUnsentDocuments(ctx context.Context, customerRef string) ([]models.Document, error) {
	return s.docs[customerRef], nil
}

func (s *fakeStore) DeleteDocument(ctx context.Context, id, syncToken string) error {
	s.deletes++
	return nil
}

func (s *fakeStore) CreateDocument(ctx context.Context, inv models.ConsolidatedInvoice) (models.Document, error) {
	if err := s.failFor[inv.CustomerRef]; err != nil {
		return models.Document{}, err
	}
	s.creates = append(s.creates, inv)
	s.nextID++
	return models.Document{
		ID:        fmt.Sprintf("doc-%d", s.nextID),
		DocNumber: fmt.Sprintf("10%d", s.nextID),
	}, nil
}

type fakeCatalog map[string]decimal.Decimal

func (c fakeCatalog) PriceOf(ctx context.Context, serviceRef string) (decimal.Decimal, error) {
	price, ok := c[serviceRef]
	if !ok {
		return decimal.Zero, errors.New("item not found")
	}
	return price, nil
}

func testPeriod(t *testing.T) models.BillingPeriod {
	t.Helper()
	period, err := billing.NewBillingPeriod("2025-10-01", "2025-10-31", "2025-12", "")
	require.NoError(t, err)
	return period
}

func testClient(name, customerRef string) models.ClientConfig {
	return models.ClientConfig{
		Name:                 name,
		CustomerRef:          customerRef,
		MonthlyRetainerHours: 20,
		RetainerRate:         decimal.NewFromInt(4000),
		OverageRate:          decimal.NewFromInt(250),
		RetainerServiceRefs:  []string{"23"},
		OverageServiceRef:    "24",
	}
}

func entryFor(name string, hours float64) models.TimeEntry {
	return models.TimeEntry{
		ClientName: name,
		Date:       time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC),
		Hours:      hours,
	}
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"23": decimal.NewFromInt(4000),
		"24": decimal.NewFromInt(250),
	}
}

func TestRunBillsEachClient(t *testing.T) {
	store := newFakeStore()
	snapshot := []models.ClientConfig{testClient("TWG", "59"), testClient("ABA", "58")}
	ledger := NewTimeLedger([]models.TimeEntry{
		entryFor("TWG", 25), // 5 hrs overage at 250
		entryFor("ABA", 12),
	}, snapshot)

	orch := New(store, testCatalog(), Options{})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.True(t, summary.AllSucceeded())
	require.Len(t, store.creates, 2)

	twg := summary.Outcomes[0]
	require.Equal(t, StatusSuccess, twg.Status)
	require.Equal(t, 2, twg.LineCount)
	require.True(t, twg.Amount.Equal(decimal.NewFromInt(5250)))

	aba := summary.Outcomes[1]
	require.Equal(t, 1, aba.LineCount)
	require.True(t, aba.Amount.Equal(decimal.NewFromInt(4000)))

	require.True(t, summary.Total().Equal(decimal.NewFromInt(9250)))
}

func TestRunClientWithNoHoursStillOwesRetainer(t *testing.T) {
	store := newFakeStore()
	snapshot := []models.ClientConfig{testClient("HumanGood", "60")}
	ledger := NewTimeLedger(nil, snapshot)

	orch := New(store, testCatalog(), Options{})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.True(t, summary.AllSucceeded())
	require.True(t, summary.Total().Equal(decimal.NewFromInt(4000)))
}

func TestRunIncompleteConfigSkippedOthersContinue(t *testing.T) {
	store := newFakeStore()
	broken := testClient("Broken", "")
	snapshot := []models.ClientConfig{broken, testClient("TWG", "59")}
	ledger := NewTimeLedger(nil, snapshot)

	orch := New(store, testCatalog(), Options{})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.False(t, summary.AllSucceeded())
	require.Equal(t, StatusSkipped, summary.Outcomes[0].Status)
	require.ErrorIs(t, summary.Outcomes[0].Err, billing.ErrConfigIncomplete)
	require.Equal(t, StatusSuccess, summary.Outcomes[1].Status)
	require.Len(t, store.creates, 1)
}

func TestRunReconcileFailureIsolated(t *testing.T) {
	store := newFakeStore()
	store.failFor["59"] = errors.New("service unavailable")
	snapshot := []models.ClientConfig{testClient("TWG", "59"), testClient("ABA", "58")}
	ledger := NewTimeLedger(nil, snapshot)

	orch := New(store, testCatalog(), Options{})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	require.Equal(t, StatusSuccess, summary.Outcomes[1].Status)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	store := newFakeStore()
	store.docs["59"] = []models.Document{{ID: "stale", CustomerRef: "59", EmailStatus: "NotSet"}}
	snapshot := []models.ClientConfig{testClient("TWG", "59")}
	ledger := NewTimeLedger([]models.TimeEntry{entryFor("TWG", 25)}, snapshot)

	orch := New(store, testCatalog(), Options{DryRun: true})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.True(t, summary.AllSucceeded())
	require.True(t, summary.Outcomes[0].Amount.Equal(decimal.NewFromInt(5250)))
	require.Empty(t, store.creates)
	require.Zero(t, store.deletes)
}

func TestRunMaxFailuresAbortsRemaining(t *testing.T) {
	store := newFakeStore()
	store.failFor["59"] = errors.New("down")
	snapshot := []models.ClientConfig{
		testClient("TWG", "59"),
		testClient("ABA", "58"),
	}
	ledger := NewTimeLedger(nil, snapshot)

	orch := New(store, testCatalog(), Options{MaxFailures: 1})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	require.Equal(t, StatusAborted, summary.Outcomes[1].Status)
	require.Empty(t, store.creates)
}

func TestRunUnresolvedServiceFailsClient(t *testing.T) {
	store := newFakeStore()
	cfg := testClient("TWG", "59")
	cfg.RetainerServiceRefs = []string{"unknown"}
	snapshot := []models.ClientConfig{cfg}
	ledger := NewTimeLedger(nil, snapshot)

	orch := New(store, testCatalog(), Options{})
	summary := orch.Run(context.Background(), snapshot, ledger, testPeriod(t))

	require.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	require.ErrorIs(t, summary.Outcomes[0].Err, billing.ErrUnresolvedService)
}

func TestTimeLedgerFlagsBadEntries(t *testing.T) {
	snapshot := []models.ClientConfig{testClient("TWG", "59")}
	ledger := NewTimeLedger([]models.TimeEntry{
		entryFor("TWG", 10),
		entryFor("TWG", -2),
		entryFor("Ghost", 5),
	}, snapshot)

	require.Equal(t, 10.0, ledger.SumHours("TWG"))
	require.Zero(t, ledger.SumHours("Ghost"))

	warnings := ledger.Warnings()
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0], "negative hours")
	require.Contains(t, warnings[1], "Ghost")
}
