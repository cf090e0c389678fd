package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	apperrors "github.com/athebyme/gomarket-platform/supplier-service/pkg/errors"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"golang.org/x/time/rate"
)

func testLogger(t *testing.T) interfaces.LoggerPort {
	t.Helper()

	log, err := logger.NewZapLogger("error", true)
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	return log
}

// newTestSupplierClient builds a real client over an httptest server.
// The token manager is pre-seeded so no auth traffic hits the server
func newTestSupplierClient(t *testing.T, handler http.Handler) *supplier.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := testLogger(t)
	limiter := rate.NewLimiter(rate.Inf, 1)
	tokens := supplier.NewTokenManager(srv.URL+"/oauth/token", "sync-user", "sync-pass", 10*time.Minute, time.Hour, limiter, srv.Client(), log)
	tokens.Seed(supplier.TokenState{
		AccessToken:     "test-token",
		AccessExpiresAt: time.Now().Add(time.Hour),
	})
	gateway := supplier.NewGateway(srv.URL, srv.Client(), limiter, tokens, 3, time.Millisecond, 5*time.Minute, 100, log)

	return supplier.NewClient(gateway)
}

type priceWrite struct {
	cost   float64
	retail float64
}

type closedRun struct {
	runID        string
	status       models.SyncRunStatus
	processed    int
	updated      int
	failed       int
	errorMessage string
}

// fakeStore is an in-memory CatalogStoragePort mirroring the SQL semantics.
// Write hooks let a test cancel the run context mid-batch; CloseSyncRun
// respects cancellation the way a real connection would
type fakeStore struct {
	mu sync.Mutex

	entries    []*models.CatalogEntry
	warehouses map[string][]*models.WarehouseStock

	stockWrites map[string][]int
	priceWrites map[string][]priceWrite
	variantIDs  map[string]string

	runs    []*models.SyncRun
	closed  []closedRun
	listErr error

	onStockWrite func()
	onPriceWrite func()
}

func newFakeStore(entries ...*models.CatalogEntry) *fakeStore {
	return &fakeStore{
		entries:     entries,
		warehouses:  make(map[string][]*models.WarehouseStock),
		stockWrites: make(map[string][]int),
		priceWrites: make(map[string][]priceWrite),
		variantIDs:  make(map[string]string),
	}
}

func (f *fakeStore) find(entryID string) *models.CatalogEntry {
	for _, entry := range f.entries {
		if entry.ID == entryID {
			return entry
		}
	}
	return nil
}

func (f *fakeStore) ListActiveEntries(ctx context.Context, limit int) ([]*models.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var active []*models.CatalogEntry
	for _, entry := range f.entries {
		if entry.Active {
			active = append(active, entry)
		}
	}
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (f *fakeStore) GetEntry(ctx context.Context, entryID string) (*models.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry := f.find(entryID); entry != nil {
		return entry, nil
	}
	return nil, utils.ErrEntryNotFound
}

func (f *fakeStore) SetVariantID(ctx context.Context, entryID, variantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.variantIDs[entryID] = variantID
	if entry := f.find(entryID); entry != nil {
		entry.SupplierVariantID = variantID
	}
	return nil
}

func (f *fakeStore) UpdateEntryStock(ctx context.Context, entryID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stockWrites[entryID] = append(f.stockWrites[entryID], quantity)
	if entry := f.find(entryID); entry != nil {
		entry.StockQuantity = quantity
		entry.Active = true
		entry.UpdatedAt = time.Now()
	}
	if f.onStockWrite != nil {
		f.onStockWrite()
	}
	return nil
}

func (f *fakeStore) UpdateEntryPrices(ctx context.Context, entryID string, costPrice, retailPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.priceWrites[entryID] = append(f.priceWrites[entryID], priceWrite{cost: costPrice, retail: retailPrice})
	if entry := f.find(entryID); entry != nil {
		entry.CostPrice = costPrice
		entry.RetailPrice = retailPrice
		entry.UpdatedAt = time.Now()
	}
	if f.onPriceWrite != nil {
		f.onPriceWrite()
	}
	return nil
}

func (f *fakeStore) ReplaceWarehouseStock(ctx context.Context, entryID string, records []*models.WarehouseStock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warehouses[entryID] = records
	return nil
}

func (f *fakeStore) ListWarehouseStock(ctx context.Context, entryID string) ([]*models.WarehouseStock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warehouses[entryID], nil
}

func (f *fakeStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.SyncRunStatusRunning
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) CloseSyncRun(ctx context.Context, runID string, status models.SyncRunStatus, processed, updated, failed int, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = append(f.closed, closedRun{
		runID:        runID,
		status:       status,
		processed:    processed,
		updated:      updated,
		failed:       failed,
		errorMessage: errorMessage,
	})
	return nil
}

func (f *fakeStore) ListSyncRuns(ctx context.Context, jobType models.JobType, limit int) ([]*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var runs []*models.SyncRun
	for i := len(f.runs) - 1; i >= 0; i-- {
		if jobType != "" && f.runs[i].JobType != jobType {
			continue
		}
		runs = append(runs, f.runs[i])
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

func (f *fakeStore) BeginTx(ctx context.Context) (context.Context, error) { return ctx, nil }
func (f *fakeStore) CommitTx(ctx context.Context) error                   { return nil }
func (f *fakeStore) RollbackTx(ctx context.Context) error                 { return nil }
func (f *fakeStore) Close() error                                         { return nil }

func (f *fakeStore) lastClosed(t *testing.T) closedRun {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closed) == 0 {
		t.Fatal("no sync runs were closed")
	}
	return f.closed[len(f.closed)-1]
}

// fakeCache is an in-memory CachePort
type fakeCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.values[key]
	if !ok {
		return nil, apperrors.ErrCacheMiss
	}
	return value, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.values, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeCache) DeleteByPattern(ctx context.Context, pattern string) error { return nil }
func (f *fakeCache) Close() error                                              { return nil }

func (f *fakeCache) wasDeleted(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, deleted := range f.deleted {
		if deleted == key {
			return true
		}
	}
	return false
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

// fakeMessaging records published messages
type fakeMessaging struct {
	mu        sync.Mutex
	published []publishedMessage
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{}
}

func (f *fakeMessaging) Publish(ctx context.Context, topic string, key string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, key: key, value: message})
	return nil
}

func (f *fakeMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	return func() error { return nil }, nil
}

func (f *fakeMessaging) Close() error { return nil }

func (f *fakeMessaging) topicMessages(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []publishedMessage
	for _, msg := range f.published {
		if msg.topic == topic {
			matched = append(matched, msg)
		}
	}
	return matched
}
