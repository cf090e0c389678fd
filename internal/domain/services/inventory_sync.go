package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
)

// EntryCacheKey ключ кэша карточки каталога
func EntryCacheKey(entryID string) string {
	return fmt.Sprintf("catalog:entry:%s", entryID)
}

// EntryCachePattern шаблон всех ключей карточек для массового сброса
const EntryCachePattern = "catalog:entry:*"

// InventorySyncService сверяет остатки каталога с данными поставщика
type InventorySyncService struct {
	store       postgres.CatalogStoragePort
	cache       interfaces.CachePort
	messaging   interfaces.MessagingPort
	client      *supplier.Client
	stockFloor  int
	eventsTopic string
	log         interfaces.LoggerPort
}

// NewInventorySyncService создает новый экземпляр InventorySyncService
func NewInventorySyncService(store postgres.CatalogStoragePort, cacheClient interfaces.CachePort, messagingClient interfaces.MessagingPort, client *supplier.Client, stockFloor int, eventsTopic string, log interfaces.LoggerPort) *InventorySyncService {
	return &InventorySyncService{
		store:       store,
		cache:       cacheClient,
		messaging:   messagingClient,
		client:      client,
		stockFloor:  stockFloor,
		eventsTopic: eventsTopic,
		log:         log,
	}
}

// Run выполняет один проход инвентарной синхронизации.
// Карточки обрабатываются от самых давно обновлённых, limit ограничивает
// расход квоты за проход. Ошибка отдельной карточки попадает в список
// неудач и не прерывает проход; возвращаемый результат заполнен и при
// фатальной ошибке, счётчики в нём отражают фактически сделанное
func (s *InventorySyncService) Run(ctx context.Context, limit int, syncType models.SyncType) (*models.SyncResult, error) {
	run := &models.SyncRun{
		JobType:  models.JobTypeInventory,
		SyncType: syncType,
	}
	if err := s.store.CreateSyncRun(ctx, run); err != nil {
		return &models.SyncResult{}, fmt.Errorf("failed to create sync run: %w", err)
	}

	result := &models.SyncResult{RunID: run.ID}

	s.log.InfoWithContext(ctx, "Инвентарная синхронизация начата",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "sync_type", Value: string(syncType)},
		interfaces.LogField{Key: "limit", Value: limit},
	)

	entries, err := s.store.ListActiveEntries(ctx, limit)
	if err != nil {
		err = fmt.Errorf("failed to list active entries: %w", err)
		s.closeRun(ctx, run.ID, models.SyncRunStatusFailed, result, err.Error())
		s.publishRunEvent(ctx, run, models.SyncRunStatusFailed, result, err.Error())
		return result, err
	}

	for _, entry := range entries {
		// Отмена контекста фатальна для прохода, остальное нет
		if ctx.Err() != nil {
			s.closeRun(ctx, run.ID, models.SyncRunStatusFailed, result, ctx.Err().Error())
			s.publishRunEvent(ctx, run, models.SyncRunStatusFailed, result, ctx.Err().Error())
			return result, ctx.Err()
		}

		result.Processed++
		if err := s.syncEntry(ctx, entry); err != nil {
			s.log.WarnWithContext(ctx, "Карточка не синхронизирована",
				interfaces.LogField{Key: "entry_id", Value: entry.ID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			result.Failures = append(result.Failures, models.SyncFailure{EntryID: entry.ID, Reason: err.Error()})
			continue
		}
		result.Updated++
	}

	s.closeRun(ctx, run.ID, models.SyncRunStatusCompleted, result, "")
	s.publishRunEvent(ctx, run, models.SyncRunStatusCompleted, result, "")
	metrics.RecordSyncEntries(string(models.JobTypeInventory), result.Updated, len(result.Failures))

	s.log.InfoWithContext(ctx, "Инвентарная синхронизация завершена",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "processed", Value: result.Processed},
		interfaces.LogField{Key: "updated", Value: result.Updated},
		interfaces.LogField{Key: "failed", Value: len(result.Failures)},
	)

	return result, nil
}

// syncEntry синхронизирует остатки одной карточки
func (s *InventorySyncService) syncEntry(ctx context.Context, entry *models.CatalogEntry) error {
	variantID := entry.SupplierVariantID
	if variantID == "" {
		resolved, err := s.resolveVariant(ctx, entry)
		if err != nil {
			return err
		}
		variantID = resolved
	}

	warehouses, err := s.client.GetVariantWarehouses(ctx, variantID)
	if err != nil {
		return fmt.Errorf("failed to fetch warehouses: %w", err)
	}

	// Агрегируем только готовый к отгрузке остаток: заводской
	// ещё производится и заказ им не закрыть
	total := 0
	records := make([]*models.WarehouseStock, 0, len(warehouses))
	for _, warehouse := range warehouses {
		total += warehouse.Quantity
		records = append(records, &models.WarehouseStock{
			WarehouseID:      warehouse.WarehouseID,
			WarehouseName:    warehouse.WarehouseName,
			CountryCode:      warehouse.CountryCode,
			SupplierQuantity: warehouse.Quantity,
			FactoryQuantity:  warehouse.FactoryQuantity,
			TotalQuantity:    warehouse.Quantity + warehouse.FactoryQuantity,
		})
	}

	quantity := applyStockFloor(total, s.stockFloor)

	// Агрегат и складские строки записываются одной транзакцией
	txCtx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Карточка остаётся активной при любом остатке, включая нулевой
	if err := s.store.UpdateEntryStock(txCtx, entry.ID, quantity); err != nil {
		s.store.RollbackTx(txCtx)
		return fmt.Errorf("failed to update entry stock: %w", err)
	}

	if err := s.store.ReplaceWarehouseStock(txCtx, entry.ID, records); err != nil {
		s.store.RollbackTx(txCtx)
		return fmt.Errorf("failed to replace warehouse stock: %w", err)
	}

	if err := s.store.CommitTx(txCtx); err != nil {
		s.store.RollbackTx(txCtx)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateEntryCache(ctx, entry.ID)

	return nil
}

// resolveVariant получает идентификатор варианта из карточки поставщика.
// Берётся первый вариант; идентификатор сохраняется сразу, чтобы
// следующие проходы не тратили на него вызов квоты
func (s *InventorySyncService) resolveVariant(ctx context.Context, entry *models.CatalogEntry) (string, error) {
	detail, err := s.client.GetProductDetail(ctx, entry.SupplierProductID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch product detail: %w", err)
	}
	if detail == nil || len(detail.Variants) == 0 || detail.Variants[0].ID == "" {
		return "", utils.ErrMissingVariant
	}

	variantID := detail.Variants[0].ID
	if err := s.store.SetVariantID(ctx, entry.ID, variantID); err != nil {
		return "", fmt.Errorf("failed to persist variant id: %w", err)
	}
	entry.SupplierVariantID = variantID

	return variantID, nil
}

// applyStockFloor обнуляет остаток, не превышающий порог: малый запас
// может закончиться до подтверждения заказа
func applyStockFloor(total, floor int) int {
	if total <= floor {
		return 0
	}
	return total
}

// invalidateEntryCache сбрасывает кэш карточки после записи
func (s *InventorySyncService) invalidateEntryCache(ctx context.Context, entryID string) {
	if err := s.cache.Delete(ctx, EntryCacheKey(entryID)); err != nil {
		s.log.WarnWithContext(ctx, "Не удалось сбросить кэш карточки",
			interfaces.LogField{Key: "entry_id", Value: entryID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// closeRun закрывает запись аудита итогами прохода.
// Контекст отвязывается от отмены: запись обязана получить терминальный
// статус и при остановке сервиса, иначе она навсегда остаётся running
func (s *InventorySyncService) closeRun(ctx context.Context, runID string, status models.SyncRunStatus, result *models.SyncResult, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.CloseSyncRun(ctx, runID, status, result.Processed, result.Updated, len(result.Failures), errMsg); err != nil {
		s.log.ErrorWithContext(ctx, "Не удалось закрыть запись о запуске",
			interfaces.LogField{Key: "run_id", Value: runID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// publishRunEvent публикует событие об итогах прохода.
// Событие о прерванном проходе отправляется уже после отмены контекста
func (s *InventorySyncService) publishRunEvent(ctx context.Context, run *models.SyncRun, status models.SyncRunStatus, result *models.SyncResult, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	eventType := messaging.SyncCompletedEvent
	if status == models.SyncRunStatusFailed {
		eventType = messaging.SyncFailedEvent
	}

	payload := messaging.SyncEventPayload{
		EventType: eventType,
		RunID:     run.ID,
		JobType:   string(models.JobTypeInventory),
		SyncType:  string(run.SyncType),
		Processed: result.Processed,
		Updated:   result.Updated,
		Failed:    len(result.Failures),
		Error:     errMsg,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.ErrorWithContext(ctx, "Не удалось сериализовать событие синхронизации",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return
	}

	if err := s.messaging.Publish(ctx, s.eventsTopic, run.ID, data); err != nil {
		s.log.WarnWithContext(ctx, "Не удалось опубликовать событие синхронизации",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
