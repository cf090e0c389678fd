package services

import (
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
)

// Коэффициенты допуска на опоздание при расчёте overdue
const (
	inventoryGraceFactor = 1.5
	priceGraceFactor     = 26.0 / 24.0 // два часа допуска на суточном цикле
)

// InventoryPolicy расписание инвентарной синхронизации.
// Интервал зависит от дня недели, запуск разрешён только внутри
// дневного окна бодрствования
type InventoryPolicy struct {
	WeekdayInterval time.Duration
	WeekendInterval time.Duration
	WakeStartHour   int
	WakeEndHour     int
}

// Interval возвращает интервал, действующий в данный момент.
// В выходные трафик магазина выше, интервал короче
func (p InventoryPolicy) Interval(now time.Time) time.Duration {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return p.WeekendInterval
	default:
		return p.WeekdayInterval
	}
}

// NextFire возвращает момент следующего запуска: интервал от now,
// прижатый к окну бодрствования
func (p InventoryPolicy) NextFire(now time.Time) time.Time {
	return p.clampToWindow(now.Add(p.Interval(now)))
}

// clampToWindow переносит момент внутрь окна бодрствования: до
// открытия окна запуск откладывается до открытия, после закрытия
// до открытия на следующий день
func (p InventoryPolicy) clampToWindow(t time.Time) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), p.WakeStartHour, 0, 0, 0, t.Location())
	end := time.Date(t.Year(), t.Month(), t.Day(), p.WakeEndHour, 0, 0, 0, t.Location())

	if t.Before(start) {
		return start
	}
	if !t.Before(end) {
		return start.AddDate(0, 0, 1)
	}
	return t
}

// PricePolicy расписание ценовой синхронизации: раз в сутки
// в фиксированное локальное время, день недели не учитывается
type PricePolicy struct {
	FireHour   int
	FireMinute int
}

// NextFire возвращает ближайший момент запуска
func (p PricePolicy) NextFire(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), p.FireHour, p.FireMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SchedulePolicy объединяет расписания обоих заданий.
// Монитор здоровья опирается на те же правила, что и планировщик:
// что значит "вовремя" определяется текущим расписанием, а не константой
type SchedulePolicy struct {
	Inventory InventoryPolicy
	Price     PricePolicy
}

// ExpectedInterval возвращает интервал, которым измеряется опоздание
// задания в данный момент
func (p SchedulePolicy) ExpectedInterval(jobType models.JobType, now time.Time) time.Duration {
	if jobType == models.JobTypePrice {
		return 24 * time.Hour
	}
	return p.Inventory.Interval(now)
}

// GraceFactor возвращает коэффициент допуска на опоздание задания
func GraceFactor(jobType models.JobType) float64 {
	if jobType == models.JobTypePrice {
		return priceGraceFactor
	}
	return inventoryGraceFactor
}
