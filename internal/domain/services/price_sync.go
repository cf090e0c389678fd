package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
)

// PricingSettings текущие настройки ценообразования.
// Меняются оператором на лету, без перезапуска сервиса
type PricingSettings struct {
	CurrencyRate       float64
	Markup             float64
	ChangeThresholdPct float64
}

// PricingProvider отдаёт актуальные настройки ценообразования
type PricingProvider func() PricingSettings

// PriceSyncService сверяет закупочные цены каталога с данными
// поставщика и пересчитывает розничные.
// Остатки этот сервис не трогает никогда
type PriceSyncService struct {
	store            postgres.CatalogStoragePort
	cache            interfaces.CachePort
	messaging        interfaces.MessagingPort
	client           *supplier.Client
	pricing          PricingProvider
	syncEventsTopic  string
	priceEventsTopic string
	log              interfaces.LoggerPort
}

// NewPriceSyncService создает новый экземпляр PriceSyncService
func NewPriceSyncService(store postgres.CatalogStoragePort, cacheClient interfaces.CachePort, messagingClient interfaces.MessagingPort, client *supplier.Client, pricing PricingProvider, syncEventsTopic, priceEventsTopic string, log interfaces.LoggerPort) *PriceSyncService {
	return &PriceSyncService{
		store:            store,
		cache:            cacheClient,
		messaging:        messagingClient,
		client:           client,
		pricing:          pricing,
		syncEventsTopic:  syncEventsTopic,
		priceEventsTopic: priceEventsTopic,
		log:              log,
	}
}

// Run выполняет один проход ценовой синхронизации.
// Настройки ценообразования снимаются один раз на весь проход, чтобы
// все карточки прохода считались по одному курсу и наценке. Изменение
// цены заметнее порога попадает в PriceChanges, меньшие изменения
// сохраняются молча. Ошибки отдельных карточек проход не прерывают
func (s *PriceSyncService) Run(ctx context.Context, limit int, syncType models.SyncType) (*models.PriceResult, error) {
	run := &models.SyncRun{
		JobType:  models.JobTypePrice,
		SyncType: syncType,
	}
	if err := s.store.CreateSyncRun(ctx, run); err != nil {
		return &models.PriceResult{}, fmt.Errorf("failed to create sync run: %w", err)
	}

	result := &models.PriceResult{RunID: run.ID}
	settings := s.pricing()

	s.log.InfoWithContext(ctx, "Ценовая синхронизация начата",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "sync_type", Value: string(syncType)},
		interfaces.LogField{Key: "limit", Value: limit},
		interfaces.LogField{Key: "currency_rate", Value: settings.CurrencyRate},
		interfaces.LogField{Key: "markup", Value: settings.Markup},
	)

	entries, err := s.store.ListActiveEntries(ctx, limit)
	if err != nil {
		err = fmt.Errorf("failed to list active entries: %w", err)
		s.closeRun(ctx, run.ID, models.SyncRunStatusFailed, result, err.Error())
		s.publishRunEvent(ctx, run, models.SyncRunStatusFailed, result, err.Error())
		return result, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			s.closeRun(ctx, run.ID, models.SyncRunStatusFailed, result, ctx.Err().Error())
			s.publishRunEvent(ctx, run, models.SyncRunStatusFailed, result, ctx.Err().Error())
			return result, ctx.Err()
		}

		updated, change, err := s.syncEntry(ctx, entry, settings)
		if err != nil {
			s.log.WarnWithContext(ctx, "Цена карточки не синхронизирована",
				interfaces.LogField{Key: "entry_id", Value: entry.ID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			result.Errors = append(result.Errors, models.SyncFailure{EntryID: entry.ID, Reason: err.Error()})
			continue
		}

		result.Synced++
		if updated {
			result.Updated++
		}
		if change != nil {
			result.PriceChanges = append(result.PriceChanges, *change)
			s.publishPriceChange(ctx, change)
		}
	}

	s.closeRun(ctx, run.ID, models.SyncRunStatusCompleted, result, "")
	s.publishRunEvent(ctx, run, models.SyncRunStatusCompleted, result, "")
	metrics.RecordSyncEntries(string(models.JobTypePrice), result.Updated, len(result.Errors))

	s.log.InfoWithContext(ctx, "Ценовая синхронизация завершена",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "synced", Value: result.Synced},
		interfaces.LogField{Key: "updated", Value: result.Updated},
		interfaces.LogField{Key: "price_changes", Value: len(result.PriceChanges)},
		interfaces.LogField{Key: "errors", Value: len(result.Errors)},
	)

	return result, nil
}

// syncEntry сверяет цену одной карточки.
// Возвращает признак записи в хранилище и изменение для списка
// заметных, если порог превышен
func (s *PriceSyncService) syncEntry(ctx context.Context, entry *models.CatalogEntry, settings PricingSettings) (bool, *models.PriceChange, error) {
	price, err := s.client.GetProductPrice(ctx, entry.SupplierProductID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to fetch supplier price: %w", err)
	}
	if price.CostPrice <= 0 {
		return false, nil, utils.ErrInvalidCost
	}

	newCost := price.CostPrice
	if newCost == entry.CostPrice {
		return false, nil, nil
	}

	oldCost := entry.CostPrice
	oldRetail := entry.RetailPrice
	newRetail := CalculateRetailPrice(newCost, settings)

	// Закупочная и розничная сохраняются вместе
	if err := s.store.UpdateEntryPrices(ctx, entry.ID, newCost, newRetail); err != nil {
		return false, nil, fmt.Errorf("failed to update entry prices: %w", err)
	}
	s.invalidateEntryCache(ctx, entry.ID)

	percent := PercentChange(oldCost, newCost)
	if math.Abs(percent) <= settings.ChangeThresholdPct {
		return true, nil, nil
	}

	direction := "up"
	if newCost < oldCost {
		direction = "down"
	}

	return true, &models.PriceChange{
		EntryID:   entry.ID,
		Name:      entry.Name,
		OldCost:   oldCost,
		NewCost:   newCost,
		OldPrice:  oldRetail,
		NewPrice:  newRetail,
		Direction: direction,
		Percent:   math.Abs(percent),
	}, nil
}

// CalculateRetailPrice пересчитывает розничную цену из закупочной:
// закупка в валюте поставщика переводится по курсу и умножается на
// наценку, результат округляется до копеек
func CalculateRetailPrice(cost float64, settings PricingSettings) float64 {
	return math.Round(cost*settings.CurrencyRate*settings.Markup*100) / 100
}

// PercentChange возвращает изменение в процентах от oldValue к newValue.
// Нулевая исходная цена означает первичную загрузку, изменение
// считается стопроцентным
func PercentChange(oldValue, newValue float64) float64 {
	if oldValue <= 0 {
		return 100
	}
	return (newValue - oldValue) / oldValue * 100
}

// invalidateEntryCache сбрасывает кэш карточки после записи
func (s *PriceSyncService) invalidateEntryCache(ctx context.Context, entryID string) {
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
func (s *PriceSyncService) closeRun(ctx context.Context, runID string, status models.SyncRunStatus, result *models.PriceResult, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	processed := result.Synced + len(result.Errors)
	if err := s.store.CloseSyncRun(ctx, runID, status, processed, result.Updated, len(result.Errors), errMsg); err != nil {
		s.log.ErrorWithContext(ctx, "Не удалось закрыть запись о запуске",
			interfaces.LogField{Key: "run_id", Value: runID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// publishRunEvent публикует событие об итогах прохода.
// Событие о прерванном проходе отправляется уже после отмены контекста
func (s *PriceSyncService) publishRunEvent(ctx context.Context, run *models.SyncRun, status models.SyncRunStatus, result *models.PriceResult, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	eventType := messaging.SyncCompletedEvent
	if status == models.SyncRunStatusFailed {
		eventType = messaging.SyncFailedEvent
	}

	payload := messaging.SyncEventPayload{
		EventType: eventType,
		RunID:     run.ID,
		JobType:   string(models.JobTypePrice),
		SyncType:  string(run.SyncType),
		Processed: result.Synced + len(result.Errors),
		Updated:   result.Updated,
		Failed:    len(result.Errors),
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

	if err := s.messaging.Publish(ctx, s.syncEventsTopic, run.ID, data); err != nil {
		s.log.WarnWithContext(ctx, "Не удалось опубликовать событие синхронизации",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// publishPriceChange публикует событие о заметном изменении цены
func (s *PriceSyncService) publishPriceChange(ctx context.Context, change *models.PriceChange) {
	payload := messaging.PriceChangedPayload{
		EventType: messaging.PriceChangedEvent,
		EntryID:   change.EntryID,
		Name:      change.Name,
		OldPrice:  change.OldPrice,
		NewPrice:  change.NewPrice,
		Direction: change.Direction,
		Percent:   change.Percent,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.ErrorWithContext(ctx, "Не удалось сериализовать событие изменения цены",
			interfaces.LogField{Key: "entry_id", Value: change.EntryID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return
	}

	if err := s.messaging.Publish(ctx, s.priceEventsTopic, change.EntryID, data); err != nil {
		s.log.WarnWithContext(ctx, "Не удалось опубликовать событие изменения цены",
			interfaces.LogField{Key: "entry_id", Value: change.EntryID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
