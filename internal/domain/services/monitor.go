package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/domain/models"
)

const (
	// maxRecordsPerJob предел записей истории на одно задание
	maxRecordsPerJob = 100
	// successRateWindow окно последних запусков для расчёта успешности
	successRateWindow = 10
	// recentRunsInSnapshot число последних запусков в снимке здоровья
	recentRunsInSnapshot = 5
)

// ExecutionRecord запись об одном завершившемся запуске задания.
// Живёт только в памяти процесса и теряется при рестарте: долговременный
// аудит ведёт таблица запусков, эта история нужна монитору здоровья
type ExecutionRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Processed  int       `json:"processed"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// JobHealth состояние здоровья одного задания
type JobHealth struct {
	Enabled       bool              `json:"enabled"`
	LastRun       *time.Time        `json:"last_run,omitempty"`
	TotalRuns     int               `json:"total_runs"`
	SuccessRate   float64           `json:"success_rate"`
	AvgDurationMs int64             `json:"avg_duration_ms"`
	Overdue       bool              `json:"overdue"`
	RecentRuns    []ExecutionRecord `json:"recent_runs"`
}

// HealthSnapshot снимок здоровья всех заданий синхронизации
type HealthSnapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Jobs        map[string]JobHealth `json:"jobs"`
}

// HealthMonitor хранит историю запусков и вычисляет здоровье заданий.
// Выявляет тихие отказы: задание, которое перестало запускаться, не
// упав, видно по признаку overdue
type HealthMonitor struct {
	policy SchedulePolicy

	mu   sync.Mutex
	jobs map[models.JobType]*jobHistory
}

type jobHistory struct {
	enabled   bool
	records   []ExecutionRecord
	totalRuns int
	lastRun   time.Time
}

// NewHealthMonitor создает новый экземпляр HealthMonitor
func NewHealthMonitor(policy SchedulePolicy, inventoryEnabled, priceEnabled bool) *HealthMonitor {
	return &HealthMonitor{
		policy: policy,
		jobs: map[models.JobType]*jobHistory{
			models.JobTypeInventory: {enabled: inventoryEnabled},
			models.JobTypePrice:     {enabled: priceEnabled},
		},
	}
}

// Record добавляет запись о завершившемся запуске.
// История ограничена maxRecordsPerJob, старые записи вытесняются
func (m *HealthMonitor) Record(jobType models.JobType, record ExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, ok := m.jobs[jobType]
	if !ok {
		history = &jobHistory{}
		m.jobs[jobType] = history
	}

	history.records = append(history.records, record)
	if len(history.records) > maxRecordsPerJob {
		history.records = history.records[len(history.records)-maxRecordsPerJob:]
	}
	history.totalRuns++
	history.lastRun = record.Timestamp
}

// Health возвращает снимок здоровья всех заданий
func (m *HealthMonitor) Health() HealthSnapshot {
	return m.healthAt(time.Now())
}

func (m *HealthMonitor) healthAt(now time.Time) HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := HealthSnapshot{
		GeneratedAt: now,
		Jobs:        make(map[string]JobHealth, len(m.jobs)),
	}

	for jobType, history := range m.jobs {
		snapshot.Jobs[string(jobType)] = m.jobHealthLocked(jobType, history, now)
	}

	return snapshot
}

func (m *HealthMonitor) jobHealthLocked(jobType models.JobType, history *jobHistory, now time.Time) JobHealth {
	health := JobHealth{
		Enabled:   history.enabled,
		TotalRuns: history.totalRuns,
	}

	if !history.lastRun.IsZero() {
		lastRun := history.lastRun
		health.LastRun = &lastRun
		health.Overdue = m.isOverdue(jobType, lastRun, now)
	}

	// Успешность и длительность считаются по последним запускам:
	// нужен сигнал о текущем состоянии, а не о всей жизни процесса
	window := history.records
	if len(window) > successRateWindow {
		window = window[len(window)-successRateWindow:]
	}
	if len(window) > 0 {
		succeeded := 0
		var totalDuration int64
		for _, record := range window {
			if record.Success {
				succeeded++
			}
			totalDuration += record.DurationMs
		}
		health.SuccessRate = float64(succeeded) / float64(len(window))
		health.AvgDurationMs = totalDuration / int64(len(window))
	}

	recent := history.records
	if len(recent) > recentRunsInSnapshot {
		recent = recent[len(recent)-recentRunsInSnapshot:]
	}
	health.RecentRuns = append([]ExecutionRecord(nil), recent...)

	return health
}

// isOverdue сравнивает простой задания с действующим сейчас ожидаемым
// интервалом, умноженным на коэффициент допуска
func (m *HealthMonitor) isOverdue(jobType models.JobType, lastRun, now time.Time) bool {
	expected := m.policy.ExpectedInterval(jobType, now)
	allowed := time.Duration(float64(expected) * GraceFactor(jobType))
	return now.Sub(lastRun) > allowed
}

// Report строит текстовый отчёт о здоровье заданий из того же
// снимка, что отдаётся в JSON
func (m *HealthMonitor) Report() string {
	snapshot := m.Health()

	var b strings.Builder
	b.WriteString("SYNC HEALTH REPORT\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", snapshot.GeneratedAt.Format(time.RFC3339)))

	for _, jobType := range []models.JobType{models.JobTypeInventory, models.JobTypePrice} {
		job, ok := snapshot.Jobs[string(jobType)]
		if !ok {
			continue
		}

		b.WriteString(fmt.Sprintf("\n[%s]\n", jobType))
		if job.Enabled {
			b.WriteString("  enabled: yes\n")
		} else {
			b.WriteString("  enabled: no\n")
		}
		if job.LastRun != nil {
			b.WriteString(fmt.Sprintf("  last run: %s\n", job.LastRun.Format(time.RFC3339)))
		} else {
			b.WriteString("  last run: never\n")
		}
		b.WriteString(fmt.Sprintf("  total runs: %d\n", job.TotalRuns))
		b.WriteString(fmt.Sprintf("  success rate: %.0f%% (last %d)\n", job.SuccessRate*100, successRateWindow))
		b.WriteString(fmt.Sprintf("  avg duration: %dms\n", job.AvgDurationMs))
		if job.Overdue {
			b.WriteString("  status: OVERDUE\n")
		} else {
			b.WriteString("  status: on schedule\n")
		}

		for _, record := range job.RecentRuns {
			outcome := "ok"
			if !record.Success {
				outcome = "fail"
			}
			b.WriteString(fmt.Sprintf("    %s %s processed=%d updated=%d failed=%d %dms\n",
				record.Timestamp.Format("2006-01-02 15:04"), outcome,
				record.Processed, record.Updated, record.Failed, record.DurationMs))
			if record.Error != "" {
				b.WriteString(fmt.Sprintf("      error: %s\n", record.Error))
			}
		}
	}

	return b.String()
}
