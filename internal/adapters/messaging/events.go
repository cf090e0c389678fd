package messaging

// Типы событий, публикуемых сервисом синхронизации
const (
	SyncCompletedEvent = "sync_completed"
	SyncFailedEvent    = "sync_failed"
	PriceChangedEvent  = "price_changed"
)

// Типы команд, принимаемых из топика команд
const (
	SyncInventoryCommand = "sync_inventory"
	SyncPriceCommand     = "sync_price"
)

// SyncEventPayload тело события о завершении запуска синхронизации
type SyncEventPayload struct {
	EventType string `json:"event_type"`
	RunID     string `json:"run_id"`
	JobType   string `json:"job_type"`
	SyncType  string `json:"sync_type"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// PriceChangedPayload тело события о заметном изменении розничной цены
type PriceChangedPayload struct {
	EventType string  `json:"event_type"`
	EntryID   string  `json:"entry_id"`
	Name      string  `json:"name"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
	Direction string  `json:"direction"`
	Percent   float64 `json:"percent"`
}

// SyncCommand команда ручного запуска задания синхронизации
type SyncCommand struct {
	CommandType string `json:"command_type"`
	Limit       int    `json:"limit,omitempty"`
}
