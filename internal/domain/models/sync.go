package models

import (
	"time"
)

// JobType определяет тип задания синхронизации
type JobType string

const (
	JobTypeInventory JobType = "inventory"
	JobTypePrice     JobType = "price"
)

// SyncType определяет способ запуска задания
type SyncType string

const (
	SyncTypeScheduled SyncType = "scheduled"
	SyncTypeManual    SyncType = "manual"
)

// SyncRunStatus определяет терминальный статус запуска
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncRun представляет долговременную запись аудита об одном запуске задания.
// Создаётся со статусом running при старте и закрывается терминальным статусом
// при завершении; записи никогда не удаляются.
type SyncRun struct {
	ID           string        `db:"id" json:"id"`
	JobType      JobType       `db:"job_type" json:"job_type"`
	SyncType     SyncType      `db:"sync_type" json:"sync_type"`
	Status       SyncRunStatus `db:"status" json:"status"`
	StartedAt    time.Time     `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
	Processed    int           `db:"processed" json:"processed"`
	Updated      int           `db:"updated" json:"updated"`
	Failed       int           `db:"failed" json:"failed"`
	ErrorMessage string        `db:"error_message" json:"error_message,omitempty"`
}

// SyncFailure описывает ошибку обработки одной карточки внутри пакета.
// Ошибки отдельных карточек не прерывают пакет.
type SyncFailure struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// SyncResult представляет итог запуска синхронизации остатков
type SyncResult struct {
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Failures  []SyncFailure `json:"failures,omitempty"`
}

// PriceChange описывает существенное изменение цены для видимости оператору
type PriceChange struct {
	EntryID   string  `json:"entry_id"`
	Name      string  `json:"name,omitempty"`
	OldCost   float64 `json:"old_cost"`
	NewCost   float64 `json:"new_cost"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
	Direction string  `json:"direction"` // "up" или "down"
	Percent   float64 `json:"percent"`
}

// PriceResult представляет итог запуска синхронизации цен
type PriceResult struct {
	RunID        string        `json:"run_id"`
	Synced       int           `json:"synced"`
	Updated      int           `json:"updated"`
	PriceChanges []PriceChange `json:"price_changes,omitempty"`
	Errors       []SyncFailure `json:"errors,omitempty"`
}
