package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/supplier"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	apperrors "github.com/athebyme/gomarket-platform/supplier-service/pkg/errors"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100

	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// SyncHandler обработчик запросов ops API синхронизации
type SyncHandler struct {
	monitor       *services.HealthMonitor
	scheduler     *services.Scheduler
	store         postgres.CatalogStoragePort
	cache         interfaces.CachePort
	client        *supplier.Client
	entryCacheTTL time.Duration
	logger        interfaces.LoggerPort
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(monitor *services.HealthMonitor, scheduler *services.Scheduler, store postgres.CatalogStoragePort, cacheClient interfaces.CachePort, client *supplier.Client, entryCacheTTL time.Duration, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		monitor:       monitor,
		scheduler:     scheduler,
		store:         store,
		cache:         cacheClient,
		client:        client,
		entryCacheTTL: entryCacheTTL,
		logger:        logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// triggerRequest тело запроса ручного запуска синхронизации
type triggerRequest struct {
	Limit int `json:"limit"`
}

// GetSyncHealth обрабатывает запрос снимка здоровья заданий
func (h *SyncHandler) GetSyncHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.monitor.Health()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    snapshot,
	})
}

// GetSyncReport обрабатывает запрос текстового отчёта о здоровье
func (h *SyncHandler) GetSyncReport(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Report()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(report))
}

// ListSyncRuns обрабатывает запрос истории запусков из таблицы аудита
func (h *SyncHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	jobParam := r.URL.Query().Get("job")
	jobType := models.JobType(jobParam)
	if jobParam != "" && jobType != models.JobTypeInventory && jobType != models.JobTypePrice {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Неизвестный тип задания",
		})
		return
	}

	limit := defaultRunsLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "Некорректный limit",
			})
			return
		}
		limit = parsed
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.store.ListSyncRuns(r.Context(), jobType, limit)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения истории запусков",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения истории запусков",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    runs,
		Meta:    map[string]interface{}{"count": len(runs)},
	})
}

// TriggerInventorySync обрабатывает ручной запуск инвентарной синхронизации
func (h *SyncHandler) TriggerInventorySync(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.decodeTriggerLimit(w, r)
	if !ok {
		return
	}

	h.trigger(w, r, models.JobTypeInventory, func() error {
		return h.scheduler.TriggerInventory(limit)
	})
}

// TriggerPriceSync обрабатывает ручной запуск ценовой синхронизации
func (h *SyncHandler) TriggerPriceSync(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.decodeTriggerLimit(w, r)
	if !ok {
		return
	}

	h.trigger(w, r, models.JobTypePrice, func() error {
		return h.scheduler.TriggerPrice(limit)
	})
}

// decodeTriggerLimit читает необязательное тело запроса с лимитом
func (h *SyncHandler) decodeTriggerLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело запроса",
		})
		return 0, false
	}
	return req.Limit, true
}

// trigger запускает задание и транслирует отказ планировщика в статус ответа.
// Занятое задание это 409: ручные запуски не ставятся в очередь
func (h *SyncHandler) trigger(w http.ResponseWriter, r *http.Request, jobType models.JobType, start func() error) {
	if err := start(); err != nil {
		switch {
		case errors.Is(err, utils.ErrJobAlreadyRunning):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "Задание ещё выполняется",
			})
		case errors.Is(err, utils.ErrSchedulerStopped):
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{
				Error:   "unavailable",
				Code:    http.StatusServiceUnavailable,
				Message: "Планировщик остановлен",
			})
		default:
			h.logger.ErrorWithContext(r.Context(), "Ошибка запуска задания",
				interfaces.LogField{Key: "job", Value: string(jobType)},
				interfaces.LogField{Key: "error", Value: err.Error()})
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, errorResponse{
				Error:   "internal_error",
				Code:    http.StatusInternalServerError,
				Message: "Ошибка запуска задания",
			})
		}
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data: map[string]interface{}{
			"job":    string(jobType),
			"status": "accepted",
		},
	})
}

// GetCatalogEntry обрабатывает запрос карточки каталога.
// Карточка читается через кэш, складские записи всегда из хранилища
func (h *SyncHandler) GetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")
	if entryID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID карточки не указан",
		})
		return
	}

	entry, err := h.loadEntry(r, entryID)
	if err != nil {
		if errors.Is(err, utils.ErrEntryNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Карточка не найдена",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения карточки",
			interfaces.LogField{Key: "entry_id", Value: entryID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения карточки",
		})
		return
	}

	warehouses, err := h.store.ListWarehouseStock(r.Context(), entryID)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения складских записей",
			interfaces.LogField{Key: "entry_id", Value: entryID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения складских записей",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data: map[string]interface{}{
			"entry":      entry,
			"warehouses": warehouses,
		},
	})
}

// loadEntry читает карточку через кэш с наполнением при промахе
func (h *SyncHandler) loadEntry(r *http.Request, entryID string) (*models.CatalogEntry, error) {
	ctx := r.Context()
	key := services.EntryCacheKey(entryID)

	cached, err := h.cache.Get(ctx, key)
	if err == nil {
		var entry models.CatalogEntry
		if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil {
			return &entry, nil
		}
		// Повреждённая запись кэша не мешает чтению из хранилища
	} else if !errors.Is(err, apperrors.ErrCacheMiss) {
		h.logger.WarnWithContext(ctx, "Ошибка чтения кэша карточки",
			interfaces.LogField{Key: "entry_id", Value: entryID},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	entry, err := h.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(entry); jsonErr == nil {
		if cacheErr := h.cache.Set(ctx, key, data, h.entryCacheTTL); cacheErr != nil {
			h.logger.WarnWithContext(ctx, "Не удалось сохранить карточку в кэш",
				interfaces.LogField{Key: "entry_id", Value: entryID},
				interfaces.LogField{Key: "error", Value: cacheErr.Error()})
		}
	}

	return entry, nil
}

// FlushCatalogCache сбрасывает кэш карточек целиком.
// Нужен оператору после смены настроек ценообразования: кэшированные
// карточки держат розничные цены, посчитанные по старым настройкам
func (h *SyncHandler) FlushCatalogCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.DeleteByPattern(r.Context(), services.EntryCachePattern); err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка сброса кэша карточек",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка сброса кэша карточек",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    map[string]interface{}{"status": "flushed"},
	})
}

// SearchSupplierProducts обрабатывает поиск по каталогу поставщика.
// Ответы кэшируются шлюзом, повторные запросы квоту не тратят
func (h *SyncHandler) SearchSupplierProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Параметр query не указан",
		})
		return
	}

	limit := defaultSearchLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "Некорректный limit",
			})
			return
		}
		limit = parsed
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	result, err := h.client.SearchProducts(r.Context(), query, limit)
	if err != nil {
		if supplier.IsRateLimited(err) {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, errorResponse{
				Error:   "rate_limited",
				Code:    http.StatusTooManyRequests,
				Message: "Квота поставщика исчерпана",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка поиска по каталогу поставщика",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorResponse{
			Error:   "supplier_error",
			Code:    http.StatusBadGateway,
			Message: "Ошибка вызова API поставщика",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    result,
		Meta:    map[string]interface{}{"total": result.Total},
	})
}
