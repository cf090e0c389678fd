package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/internal/utils"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
)

// InventoryRunner запускает проход инвентарной синхронизации
type InventoryRunner interface {
	Run(ctx context.Context, limit int, syncType models.SyncType) (*models.SyncResult, error)
}

// PriceRunner запускает проход ценовой синхронизации
type PriceRunner interface {
	Run(ctx context.Context, limit int, syncType models.SyncType) (*models.PriceResult, error)
}

// SchedulerOptions параметры планировщика
type SchedulerOptions struct {
	InventoryEnabled    bool
	PriceEnabled        bool
	InventoryBatchLimit int
	PriceBatchLimit     int
}

// Scheduler ведёт две независимые линии запуска заданий.
// Линия после каждого запуска сама вычисляет следующий момент и
// перевзводит таймер: фиксированного периода нет, инвентарный интервал
// зависит от дня недели. Задание одного типа не может выполняться
// в два потока, пропущенные запуски в очередь не ставятся
type Scheduler struct {
	policy    SchedulePolicy
	monitor   *HealthMonitor
	inventory InventoryRunner
	price     PriceRunner
	opts      SchedulerOptions
	log       interfaces.LoggerPort

	mu      sync.Mutex
	running map[models.JobType]bool
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler создает новый экземпляр Scheduler
func NewScheduler(policy SchedulePolicy, monitor *HealthMonitor, inventory InventoryRunner, price PriceRunner, opts SchedulerOptions, log interfaces.LoggerPort) *Scheduler {
	return &Scheduler{
		policy:    policy,
		monitor:   monitor,
		inventory: inventory,
		price:     price,
		opts:      opts,
		log:       log,
		running:   make(map[models.JobType]bool),
	}
}

// Start запускает линии включённых заданий.
// Первый запуск каждой линии назначается на следующий вычисленный
// момент, а не немедленно: рестарт процесса не тратит квоту поставщика
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.opts.InventoryEnabled {
		s.wg.Add(1)
		go s.runTimeline(s.ctx, models.JobTypeInventory, s.policy.Inventory.NextFire, s.executeInventory)
	}
	if s.opts.PriceEnabled {
		s.wg.Add(1)
		go s.runTimeline(s.ctx, models.JobTypePrice, s.policy.Price.NextFire, s.executePrice)
	}
}

// Stop останавливает линии и ждёт завершения текущих запусков
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// TriggerInventory запускает инвентарную синхронизацию вне расписания.
// limit <= 0 означает лимит из конфигурации.
// Возвращает ErrJobAlreadyRunning, если задание ещё выполняется:
// ручные запуски тоже не ставятся в очередь
func (s *Scheduler) TriggerInventory(limit int) error {
	ctx, err := s.lifetimeContext()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = s.opts.InventoryBatchLimit
	}

	if !s.tryAcquire(models.JobTypeInventory) {
		return utils.ErrJobAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(models.JobTypeInventory)
		s.doInventoryRun(ctx, limit, models.SyncTypeManual)
	}()

	return nil
}

// TriggerPrice запускает ценовую синхронизацию вне расписания
func (s *Scheduler) TriggerPrice(limit int) error {
	ctx, err := s.lifetimeContext()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = s.opts.PriceBatchLimit
	}

	if !s.tryAcquire(models.JobTypePrice) {
		return utils.ErrJobAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(models.JobTypePrice)
		s.doPriceRun(ctx, limit, models.SyncTypeManual)
	}()

	return nil
}

// lifetimeContext возвращает контекст жизни планировщика, чтобы
// остановка сервиса отменяла и ручные запуски
func (s *Scheduler) lifetimeContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, utils.ErrSchedulerStopped
	}
	return s.ctx, nil
}

// runTimeline цикл одной линии: ждать момент, выполнить, вычислить
// следующий момент, перевзвестись
func (s *Scheduler) runTimeline(ctx context.Context, jobType models.JobType, nextFire func(time.Time) time.Time, execute func(context.Context, models.SyncType)) {
	defer s.wg.Done()

	next := nextFire(time.Now())
	s.log.Info("Линия задания взведена",
		interfaces.LogField{Key: "job", Value: string(jobType)},
		interfaces.LogField{Key: "next_fire", Value: next.Format(time.RFC3339)},
	)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			execute(ctx, models.SyncTypeScheduled)

			next = nextFire(time.Now())
			s.log.Info("Следующий запуск назначен",
				interfaces.LogField{Key: "job", Value: string(jobType)},
				interfaces.LogField{Key: "next_fire", Value: next.Format(time.RFC3339)},
			)
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) executeInventory(ctx context.Context, syncType models.SyncType) {
	if !s.tryAcquire(models.JobTypeInventory) {
		s.log.Warn("Запуск пропущен, задание ещё выполняется",
			interfaces.LogField{Key: "job", Value: string(models.JobTypeInventory)},
		)
		return
	}
	defer s.release(models.JobTypeInventory)

	s.doInventoryRun(ctx, s.opts.InventoryBatchLimit, syncType)
}

func (s *Scheduler) executePrice(ctx context.Context, syncType models.SyncType) {
	if !s.tryAcquire(models.JobTypePrice) {
		s.log.Warn("Запуск пропущен, задание ещё выполняется",
			interfaces.LogField{Key: "job", Value: string(models.JobTypePrice)},
		)
		return
	}
	defer s.release(models.JobTypePrice)

	s.doPriceRun(ctx, s.opts.PriceBatchLimit, syncType)
}

// doInventoryRun выполняет проход и фиксирует итог в мониторе
func (s *Scheduler) doInventoryRun(ctx context.Context, limit int, syncType models.SyncType) {
	started := time.Now()
	result, err := s.inventory.Run(ctx, limit, syncType)

	record := ExecutionRecord{
		Timestamp:  time.Now(),
		Success:    err == nil,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if result != nil {
		record.Processed = result.Processed
		record.Updated = result.Updated
		record.Failed = len(result.Failures)
	}

	status := models.SyncRunStatusCompleted
	if err != nil {
		record.Error = err.Error()
		status = models.SyncRunStatusFailed
		s.log.ErrorWithContext(ctx, "Инвентарная синхронизация завершилась ошибкой",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	s.monitor.Record(models.JobTypeInventory, record)
	metrics.RecordSyncRun(string(models.JobTypeInventory), string(status), time.Since(started))
}

// doPriceRun выполняет проход и фиксирует итог в мониторе
func (s *Scheduler) doPriceRun(ctx context.Context, limit int, syncType models.SyncType) {
	started := time.Now()
	result, err := s.price.Run(ctx, limit, syncType)

	record := ExecutionRecord{
		Timestamp:  time.Now(),
		Success:    err == nil,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if result != nil {
		record.Processed = result.Synced + len(result.Errors)
		record.Updated = result.Updated
		record.Failed = len(result.Errors)
	}

	status := models.SyncRunStatusCompleted
	if err != nil {
		record.Error = err.Error()
		status = models.SyncRunStatusFailed
		s.log.ErrorWithContext(ctx, "Ценовая синхронизация завершилась ошибкой",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	s.monitor.Record(models.JobTypePrice, record)
	metrics.RecordSyncRun(string(models.JobTypePrice), string(status), time.Since(started))
}

// tryAcquire взводит флаг выполнения задания.
// Флаг снимается на любом пути выхода, включая ошибочный
func (s *Scheduler) tryAcquire(jobType models.JobType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[jobType] {
		return false
	}
	s.running[jobType] = true
	return true
}

func (s *Scheduler) release(jobType models.JobType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobType] = false
}
