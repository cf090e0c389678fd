package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
)

const testPriceTopic = "supplier.price.events"

func testPricingSettings() PricingSettings {
	return PricingSettings{CurrencyRate: 1.0, Markup: 1.6, ChangeThresholdPct: 0.5}
}

func newPriceService(t *testing.T, store *fakeStore, cacheClient *fakeCache, messagingClient *fakeMessaging, handler http.Handler, provider PricingProvider) *PriceSyncService {
	t.Helper()

	client := newTestSupplierClient(t, handler)
	return NewPriceSyncService(store, cacheClient, messagingClient, client, provider, testEventsTopic, testPriceTopic, testLogger(t))
}

func priceHandler(t *testing.T, productID string, costPrice float64) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/products/"+productID+"/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: productID, CostPrice: costPrice, Currency: "EUR"})
	})
	return mux
}

func pricedEntry(id, productID string, cost, retail float64) *models.CatalogEntry {
	entry := testEntry(id, productID, "v-"+id)
	entry.CostPrice = cost
	entry.RetailPrice = retail
	return entry
}

func TestPriceRun_SmallChangePersistsSilently(t *testing.T) {
	store := newFakeStore(pricedEntry("e-1", "p-1", 100, 160))
	messagingClient := newFakeMessaging()

	service := newPriceService(t, store, newFakeCache(), messagingClient, priceHandler(t, "p-1", 100.3), func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Synced != 1 || result.Updated != 1 {
		t.Errorf("Run() synced = %d, updated = %d, want 1, 1", result.Synced, result.Updated)
	}
	if len(result.PriceChanges) != 0 {
		t.Errorf("Run() price changes = %d, want 0 for a 0.3%% move", len(result.PriceChanges))
	}

	writes := store.priceWrites["e-1"]
	if len(writes) != 1 {
		t.Fatalf("price writes = %d, want 1", len(writes))
	}
	if writes[0].cost != 100.3 || writes[0].retail != 160.48 {
		t.Errorf("persisted prices = %v/%v, want 100.3/160.48", writes[0].cost, writes[0].retail)
	}

	if events := messagingClient.topicMessages(testPriceTopic); len(events) != 0 {
		t.Errorf("price events = %d, want 0 below the threshold", len(events))
	}
}

func TestPriceRun_NotableChangeSurfacesAndPublishes(t *testing.T) {
	store := newFakeStore(pricedEntry("e-1", "p-1", 100, 160))
	cacheClient := newFakeCache()
	messagingClient := newFakeMessaging()

	service := newPriceService(t, store, cacheClient, messagingClient, priceHandler(t, "p-1", 100.6), func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.PriceChanges) != 1 {
		t.Fatalf("Run() price changes = %d, want 1", len(result.PriceChanges))
	}
	change := result.PriceChanges[0]
	if change.EntryID != "e-1" || change.OldCost != 100 || change.NewCost != 100.6 {
		t.Errorf("change = %+v, want e-1 going from 100 to 100.6", change)
	}
	if change.Direction != "up" {
		t.Errorf("change direction = %q, want %q", change.Direction, "up")
	}
	if math.Abs(change.Percent-0.6) > 0.01 {
		t.Errorf("change percent = %v, want about 0.6", change.Percent)
	}
	if change.OldPrice != 160 || change.NewPrice != 160.96 {
		t.Errorf("retail prices = %v/%v, want 160/160.96", change.OldPrice, change.NewPrice)
	}

	if !cacheClient.wasDeleted(EntryCacheKey("e-1")) {
		t.Error("entry cache was not invalidated after the price write")
	}

	// Price jobs never write stock
	if len(store.stockWrites) != 0 {
		t.Errorf("stock writes = %v, price sync must not touch stock", store.stockWrites)
	}

	events := messagingClient.topicMessages(testPriceTopic)
	if len(events) != 1 {
		t.Fatalf("price events = %d, want 1", len(events))
	}
	var payload messaging.PriceChangedPayload
	if err := json.Unmarshal(events[0].value, &payload); err != nil {
		t.Fatalf("unmarshal price event: %v", err)
	}
	if payload.EventType != messaging.PriceChangedEvent || payload.EntryID != "e-1" || payload.Direction != "up" {
		t.Errorf("price event = %+v, want %q for e-1 going up", payload, messaging.PriceChangedEvent)
	}

	if events := messagingClient.topicMessages(testEventsTopic); len(events) != 1 {
		t.Errorf("sync events = %d, want 1", len(events))
	}
}

func TestPriceRun_DecreaseReportsDown(t *testing.T) {
	store := newFakeStore(pricedEntry("e-1", "p-1", 100, 160))

	service := newPriceService(t, store, newFakeCache(), newFakeMessaging(), priceHandler(t, "p-1", 90), func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.PriceChanges) != 1 {
		t.Fatalf("Run() price changes = %d, want 1", len(result.PriceChanges))
	}
	change := result.PriceChanges[0]
	if change.Direction != "down" {
		t.Errorf("change direction = %q, want %q", change.Direction, "down")
	}
	if math.Abs(change.Percent-10) > 0.01 {
		t.Errorf("change percent = %v, want about 10", change.Percent)
	}
}

func TestPriceRun_InitialLoadCountsAsFullChange(t *testing.T) {
	store := newFakeStore(pricedEntry("e-1", "p-1", 0, 0))

	service := newPriceService(t, store, newFakeCache(), newFakeMessaging(), priceHandler(t, "p-1", 50), func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.PriceChanges) != 1 {
		t.Fatalf("Run() price changes = %d, want 1", len(result.PriceChanges))
	}
	change := result.PriceChanges[0]
	if change.Direction != "up" || change.Percent != 100 {
		t.Errorf("change = %+v, want a 100%% move up for the first load", change)
	}
}

func TestPriceRun_EqualCostSkipsWrite(t *testing.T) {
	store := newFakeStore(pricedEntry("e-1", "p-1", 100, 160))

	service := newPriceService(t, store, newFakeCache(), newFakeMessaging(), priceHandler(t, "p-1", 100), func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Synced != 1 || result.Updated != 0 {
		t.Errorf("Run() synced = %d, updated = %d, want 1, 0", result.Synced, result.Updated)
	}
	if len(store.priceWrites) != 0 {
		t.Errorf("price writes = %v, want none for an unchanged cost", store.priceWrites)
	}
}

func TestPriceRun_InvalidCostRecordedAsError(t *testing.T) {
	store := newFakeStore(
		pricedEntry("e-1", "p-1", 100, 160),
		pricedEntry("e-2", "p-2", 80, 128),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/products/p-1/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-1", CostPrice: 0})
	})
	mux.HandleFunc("/api/v2/products/p-2/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-2", CostPrice: 85})
	})

	service := newPriceService(t, store, newFakeCache(), newFakeMessaging(), mux, func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(context.Background(), 0, models.SyncTypeScheduled)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Synced != 1 || result.Updated != 1 {
		t.Errorf("Run() synced = %d, updated = %d, want 1, 1", result.Synced, result.Updated)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Run() errors = %d, want 1", len(result.Errors))
	}
	if result.Errors[0].EntryID != "e-1" || result.Errors[0].Reason != utils.ErrInvalidCost.Error() {
		t.Errorf("error = %+v, want e-1 with %q", result.Errors[0], utils.ErrInvalidCost.Error())
	}
	if len(store.priceWrites["e-1"]) != 0 {
		t.Errorf("price writes for e-1 = %v, want none for an invalid cost", store.priceWrites["e-1"])
	}

	closed := store.lastClosed(t)
	if closed.status != models.SyncRunStatusCompleted || closed.processed != 2 || closed.failed != 1 {
		t.Errorf("closed run = %+v, want completed with 2 processed and 1 failed", closed)
	}
}

func TestPriceRun_SettingsSnapshotOncePerRun(t *testing.T) {
	store := newFakeStore(
		pricedEntry("e-1", "p-1", 100, 160),
		pricedEntry("e-2", "p-2", 80, 128),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/products/p-1/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-1", CostPrice: 110})
	})
	mux.HandleFunc("/api/v2/products/p-2/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-2", CostPrice: 90})
	})

	providerCalls := 0
	service := newPriceService(t, store, newFakeCache(), newFakeMessaging(), mux, func() PricingSettings {
		providerCalls++
		return testPricingSettings()
	})

	if _, err := service.Run(context.Background(), 0, models.SyncTypeScheduled); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// All entries of one pass share a single settings snapshot
	if providerCalls != 1 {
		t.Errorf("pricing provider calls = %d, want 1", providerCalls)
	}
}

func TestPriceRun_CancelledMidBatchClosesRunAsFailed(t *testing.T) {
	store := newFakeStore(
		pricedEntry("e-1", "p-1", 100, 160),
		pricedEntry("e-2", "p-2", 80, 128),
	)
	messagingClient := newFakeMessaging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onPriceWrite = cancel

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/products/p-1/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-1", CostPrice: 100.3})
	})
	mux.HandleFunc("/api/v2/products/p-2/price", func(w http.ResponseWriter, r *http.Request) {
		writeSupplierJSON(t, w, supplier.ProductPrice{ProductID: "p-2", CostPrice: 90})
	})

	service := newPriceService(t, store, newFakeCache(), messagingClient, mux, func() PricingSettings {
		return testPricingSettings()
	})

	result, err := service.Run(ctx, 0, models.SyncTypeScheduled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if result.Synced != 1 || result.Updated != 1 {
		t.Errorf("Run() synced = %d, updated = %d, want 1, 1", result.Synced, result.Updated)
	}

	// The audit row must reach a terminal status even though the run
	// context is already cancelled when it is closed
	closed := store.lastClosed(t)
	if closed.status != models.SyncRunStatusFailed {
		t.Errorf("run status = %q, want %q", closed.status, models.SyncRunStatusFailed)
	}
	if !strings.Contains(closed.errorMessage, context.Canceled.Error()) {
		t.Errorf("run error = %q, want the cancellation recorded", closed.errorMessage)
	}

	events := messagingClient.topicMessages(testEventsTopic)
	if len(events) != 1 {
		t.Fatalf("published events = %d, want 1", len(events))
	}
	if payload := decodeSyncEvent(t, events[0].value); payload.EventType != messaging.SyncFailedEvent {
		t.Errorf("event type = %q, want %q", payload.EventType, messaging.SyncFailedEvent)
	}
}

func TestCalculateRetailPrice(t *testing.T) {
	tests := []struct {
		name     string
		cost     float64
		settings PricingSettings
		want     float64
	}{
		{
			name:     "plain markup",
			cost:     100,
			settings: PricingSettings{CurrencyRate: 1.0, Markup: 1.6},
			want:     160,
		},
		{
			name:     "currency conversion",
			cost:     50,
			settings: PricingSettings{CurrencyRate: 90, Markup: 1.5},
			want:     6750,
		},
		{
			name:     "rounded to cents",
			cost:     9.99,
			settings: PricingSettings{CurrencyRate: 1.0, Markup: 1.333},
			want:     13.32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateRetailPrice(tt.cost, tt.settings); got != tt.want {
				t.Errorf("CalculateRetailPrice(%v) = %v, want %v", tt.cost, got, tt.want)
			}
		})
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		oldValue float64
		newValue float64
		want     float64
	}{
		{name: "growth", oldValue: 100, newValue: 105, want: 5},
		{name: "drop", oldValue: 100, newValue: 95, want: -5},
		{name: "first load", oldValue: 0, newValue: 100, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentChange(tt.oldValue, tt.newValue); got != tt.want {
				t.Errorf("PercentChange(%v, %v) = %v, want %v", tt.oldValue, tt.newValue, got, tt.want)
			}
		})
	}
}
