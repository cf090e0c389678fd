package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogStorageInterface определяет операции хранилища каталога,
// используемые заданиями синхронизации и ops API
type CatalogStorageInterface interface {
	// Методы карточек каталога

	// ListActiveEntries возвращает активные карточки, отсортированные по
	// возрастанию updated_at (давно не синхронизированные первыми).
	// limit <= 0 означает отсутствие ограничения
	ListActiveEntries(ctx context.Context, limit int) ([]*models.CatalogEntry, error)

	// GetEntry получает карточку по ID
	// Возвращает utils.ErrEntryNotFound если карточка не найдена
	GetEntry(ctx context.Context, entryID string) (*models.CatalogEntry, error)

	// SetVariantID сохраняет разрешённый идентификатор варианта поставщика
	SetVariantID(ctx context.Context, entryID, variantID string) error

	// UpdateEntryStock сохраняет агрегированный остаток и подтверждает активность карточки
	UpdateEntryStock(ctx context.Context, entryID string, quantity int) error

	// UpdateEntryPrices сохраняет закупочную и розничную цены вместе
	UpdateEntryPrices(ctx context.Context, entryID string, costPrice, retailPrice float64) error

	// Методы складских остатков

	// ReplaceWarehouseStock полностью заменяет складские записи карточки
	// свежим набором: удаление и вставка выполняются в одной транзакции
	ReplaceWarehouseStock(ctx context.Context, entryID string, records []*models.WarehouseStock) error

	// ListWarehouseStock возвращает складские записи карточки
	ListWarehouseStock(ctx context.Context, entryID string) ([]*models.WarehouseStock, error)

	// Методы аудита запусков

	// CreateSyncRun создаёт запись о запуске со статусом running
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error

	// CloseSyncRun закрывает запись терминальным статусом и итоговыми счётчиками
	CloseSyncRun(ctx context.Context, runID string, status models.SyncRunStatus, processed, updated, failed int, errorMessage string) error

	// ListSyncRuns возвращает последние запуски, новые первыми.
	// Пустой jobType означает все типы заданий
	ListSyncRuns(ctx context.Context, jobType models.JobType, limit int) ([]*models.SyncRun, error)
}

// CatalogStoragePort объединяет операции каталога с управлением транзакциями
type CatalogStoragePort interface {
	CatalogStorageInterface
	interfaces.StoragePort
}

// contextKey тип для ключей контекста
type contextKey string

// Ключи контекста
const (
	txKey contextKey = "transaction"
)

// CatalogStorage реализация хранилища каталога для PostgreSQL.
// Текстовые колонки без значения (supplier_variant_id в catalog_entries,
// error_message в sync_runs) в схеме объявлены NOT NULL DEFAULT '':
// строки сканируются в обычный string, NULL здесь не встречается
type CatalogStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает новый экземпляр CatalogStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*CatalogStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &CatalogStorage{
		pool: pool,
	}, nil
}

// Close закрывает соединение с БД
func (r *CatalogStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *CatalogStorage) getExecutor(ctx context.Context) executor {
	if tx := r.getTx(ctx); tx != nil {
		return tx // pgx.Tx реализует нужные методы
	}
	return r.pool // *pgxpool.Pool тоже реализует нужные методы
}

// getTx получает транзакцию из контекста
func (r *CatalogStorage) getTx(ctx context.Context) pgx.Tx {
	txFromCtx, ok := ctx.Value(txKey).(pgx.Tx)
	if !ok {
		return nil
	}
	return txFromCtx
}

// BeginTx начинает новую транзакцию
func (r *CatalogStorage) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, tx), nil
}

// CommitTx фиксирует транзакцию
func (r *CatalogStorage) CommitTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("no transaction in context")
	}
	return tx.Commit(ctx)
}

// RollbackTx откатывает транзакцию
func (r *CatalogStorage) RollbackTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("no transaction in context")
	}
	return tx.Rollback(ctx)
}

// ListActiveEntries возвращает активные карточки, давно не обновлявшиеся первыми
func (r *CatalogStorage) ListActiveEntries(ctx context.Context, limit int) ([]*models.CatalogEntry, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT id, supplier_product_id, supplier_variant_id, name, description,
			cost_price, retail_price, active, stock_quantity, created_at, updated_at
		FROM supplier.catalog_entries
		WHERE active = TRUE
		ORDER BY updated_at ASC
	`

	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, query, args...)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, query, args...)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		var entry models.CatalogEntry
		err := rows.Scan(&entry.ID, &entry.SupplierProductID, &entry.SupplierVariantID,
			&entry.Name, &entry.Description, &entry.CostPrice, &entry.RetailPrice,
			&entry.Active, &entry.StockQuantity, &entry.CreatedAt, &entry.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry row: %w", err)
		}
		entries = append(entries, &entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating catalog entry rows: %w", rows.Err())
	}

	return entries, nil
}

// GetEntry получает карточку по ID
func (r *CatalogStorage) GetEntry(ctx context.Context, entryID string) (*models.CatalogEntry, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT id, supplier_product_id, supplier_variant_id, name, description,
			cost_price, retail_price, active, stock_quantity, created_at, updated_at
		FROM supplier.catalog_entries
		WHERE id = $1
	`

	var entry models.CatalogEntry
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		row := e.QueryRow(ctx, query, entryID)
		err = row.Scan(&entry.ID, &entry.SupplierProductID, &entry.SupplierVariantID,
			&entry.Name, &entry.Description, &entry.CostPrice, &entry.RetailPrice,
			&entry.Active, &entry.StockQuantity, &entry.CreatedAt, &entry.UpdatedAt)
	case *pgxpool.Pool:
		row := e.QueryRow(ctx, query, entryID)
		err = row.Scan(&entry.ID, &entry.SupplierProductID, &entry.SupplierVariantID,
			&entry.Name, &entry.Description, &entry.CostPrice, &entry.RetailPrice,
			&entry.Active, &entry.StockQuantity, &entry.CreatedAt, &entry.UpdatedAt)
	}

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}

	return &entry, nil
}

// SetVariantID сохраняет разрешённый идентификатор варианта.
// updated_at намеренно не меняется: разрешение варианта ещё не синхронизация
func (r *CatalogStorage) SetVariantID(ctx context.Context, entryID, variantID string) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE supplier.catalog_entries
		SET supplier_variant_id = $2
		WHERE id = $1
	`

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, entryID, variantID)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, entryID, variantID)
	}

	if err != nil {
		return fmt.Errorf("failed to set variant id: %w", err)
	}

	return nil
}

// UpdateEntryStock сохраняет агрегированный остаток.
// Карточка всегда остаётся активной: нулевой остаток сам по себе
// сообщает потребителям о недоступности товара
func (r *CatalogStorage) UpdateEntryStock(ctx context.Context, entryID string, quantity int) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE supplier.catalog_entries
		SET stock_quantity = $2, active = TRUE, updated_at = $3
		WHERE id = $1
	`

	now := time.Now().UTC()

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, entryID, quantity, now)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, entryID, quantity, now)
	}

	if err != nil {
		return fmt.Errorf("failed to update entry stock: %w", err)
	}

	return nil
}

// UpdateEntryPrices сохраняет закупочную и розничную цены одной операцией
func (r *CatalogStorage) UpdateEntryPrices(ctx context.Context, entryID string, costPrice, retailPrice float64) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE supplier.catalog_entries
		SET cost_price = $2, retail_price = $3, updated_at = $4
		WHERE id = $1
	`

	now := time.Now().UTC()

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, entryID, costPrice, retailPrice, now)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, entryID, costPrice, retailPrice, now)
	}

	if err != nil {
		return fmt.Errorf("failed to update entry prices: %w", err)
	}

	return nil
}

// ReplaceWarehouseStock полностью заменяет складские записи карточки.
// Удаление и вставка выполняются в одной транзакции, чтобы читатели не
// видели частично заменённый набор; склад, пропавший из ответа
// поставщика, при этом корректно исчезает
func (r *CatalogStorage) ReplaceWarehouseStock(ctx context.Context, entryID string, records []*models.WarehouseStock) error {
	ownTx := false
	if r.getTx(ctx) == nil {
		var err error
		ctx, err = r.BeginTx(ctx)
		if err != nil {
			return err
		}
		ownTx = true
	}

	if err := r.replaceWarehouseStockTx(ctx, entryID, records); err != nil {
		if ownTx {
			_ = r.RollbackTx(ctx)
		}
		return err
	}

	if ownTx {
		if err := r.CommitTx(ctx); err != nil {
			return fmt.Errorf("failed to commit warehouse stock replace: %w", err)
		}
	}

	return nil
}

func (r *CatalogStorage) replaceWarehouseStockTx(ctx context.Context, entryID string, records []*models.WarehouseStock) error {
	executor := r.getExecutor(ctx)

	deleteQuery := `
		DELETE FROM supplier.warehouse_stock
		WHERE entry_id = $1
	`

	insertQuery := `
		INSERT INTO supplier.warehouse_stock (entry_id, warehouse_id, warehouse_name,
			country_code, supplier_quantity, factory_quantity, total_quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, deleteQuery, entryID)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, deleteQuery, entryID)
	}

	if err != nil {
		return fmt.Errorf("failed to delete warehouse stock: %w", err)
	}

	for _, record := range records {
		record.EntryID = entryID
		record.UpdatedAt = now

		switch e := executor.(type) {
		case pgx.Tx:
			_, err = e.Exec(ctx, insertQuery, record.EntryID, record.WarehouseID, record.WarehouseName,
				record.CountryCode, record.SupplierQuantity, record.FactoryQuantity,
				record.TotalQuantity, record.UpdatedAt)
		case *pgxpool.Pool:
			_, err = e.Exec(ctx, insertQuery, record.EntryID, record.WarehouseID, record.WarehouseName,
				record.CountryCode, record.SupplierQuantity, record.FactoryQuantity,
				record.TotalQuantity, record.UpdatedAt)
		}

		if err != nil {
			return fmt.Errorf("failed to insert warehouse stock: %w", err)
		}
	}

	return nil
}

// ListWarehouseStock возвращает складские записи карточки
func (r *CatalogStorage) ListWarehouseStock(ctx context.Context, entryID string) ([]*models.WarehouseStock, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT entry_id, warehouse_id, warehouse_name, country_code,
			supplier_quantity, factory_quantity, total_quantity, updated_at
		FROM supplier.warehouse_stock
		WHERE entry_id = $1
		ORDER BY warehouse_id
	`

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, query, entryID)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, query, entryID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query warehouse stock: %w", err)
	}
	defer rows.Close()

	var records []*models.WarehouseStock
	for rows.Next() {
		var record models.WarehouseStock
		err := rows.Scan(&record.EntryID, &record.WarehouseID, &record.WarehouseName,
			&record.CountryCode, &record.SupplierQuantity, &record.FactoryQuantity,
			&record.TotalQuantity, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan warehouse stock row: %w", err)
		}
		records = append(records, &record)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating warehouse stock rows: %w", rows.Err())
	}

	return records, nil
}

// CreateSyncRun создаёт запись аудита о запуске задания
func (r *CatalogStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	executor := r.getExecutor(ctx)

	// Если ID пустой, генерируем новый
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.SyncRunStatusRunning
	}

	query := `
		INSERT INTO supplier.sync_runs (id, job_type, sync_type, status, started_at,
			processed, updated, failed, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, run.ID, run.JobType, run.SyncType, run.Status,
			run.StartedAt, run.Processed, run.Updated, run.Failed, run.ErrorMessage)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, run.ID, run.JobType, run.SyncType, run.Status,
			run.StartedAt, run.Processed, run.Updated, run.Failed, run.ErrorMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	return nil
}

// CloseSyncRun закрывает запись аудита терминальным статусом
func (r *CatalogStorage) CloseSyncRun(ctx context.Context, runID string, status models.SyncRunStatus, processed, updated, failed int, errorMessage string) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE supplier.sync_runs
		SET status = $2, finished_at = $3, processed = $4, updated = $5, failed = $6, error_message = $7
		WHERE id = $1
	`

	now := time.Now().UTC()

	var err error
	switch e := executor.(type) {
	case pgx.Tx:
		_, err = e.Exec(ctx, query, runID, status, now, processed, updated, failed, errorMessage)
	case *pgxpool.Pool:
		_, err = e.Exec(ctx, query, runID, status, now, processed, updated, failed, errorMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to close sync run: %w", err)
	}

	return nil
}

// ListSyncRuns возвращает последние запуски задания, новые первыми
func (r *CatalogStorage) ListSyncRuns(ctx context.Context, jobType models.JobType, limit int) ([]*models.SyncRun, error) {
	executor := r.getExecutor(ctx)

	var query string
	var args []interface{}

	if jobType == "" {
		query = `
			SELECT id, job_type, sync_type, status, started_at, finished_at,
				processed, updated, failed, error_message
			FROM supplier.sync_runs
			ORDER BY started_at DESC
			LIMIT $1
		`
		args = []interface{}{limit}
	} else {
		query = `
			SELECT id, job_type, sync_type, status, started_at, finished_at,
				processed, updated, failed, error_message
			FROM supplier.sync_runs
			WHERE job_type = $1
			ORDER BY started_at DESC
			LIMIT $2
		`
		args = []interface{}{jobType, limit}
	}

	var rows pgx.Rows
	var err error

	switch e := executor.(type) {
	case pgx.Tx:
		rows, err = e.Query(ctx, query, args...)
	case *pgxpool.Pool:
		rows, err = e.Query(ctx, query, args...)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		err := rows.Scan(&run.ID, &run.JobType, &run.SyncType, &run.Status,
			&run.StartedAt, &run.FinishedAt, &run.Processed, &run.Updated,
			&run.Failed, &run.ErrorMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}
		runs = append(runs, &run)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating sync run rows: %w", rows.Err())
	}

	return runs, nil
}
