package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingValues представляет снимок настроек ценообразования на момент чтения
type PricingValues struct {
	CurrencyRate       float64
	Markup             float64
	ChangeThresholdPct float64
}

// PricingStore отдаёт актуальные настройки ценообразования.
// Значения обновляются при изменении файла конфигурации без перезапуска
// сервиса, поэтому обращение всегда идёт через Current, а не через Config.
type PricingStore struct {
	mu      sync.RWMutex
	current PricingValues
}

// NewPricingStore создаёт хранилище с начальными значениями из конфигурации
func NewPricingStore(cfg *Config) *PricingStore {
	return &PricingStore{
		current: PricingValues{
			CurrencyRate:       cfg.Pricing.CurrencyRate,
			Markup:             cfg.Pricing.Markup,
			ChangeThresholdPct: cfg.Pricing.ChangeThresholdPct,
		},
	}
}

// Current возвращает текущие значения ценообразования
func (s *PricingStore) Current() PricingValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *PricingStore) set(v PricingValues) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}

// WatchPricing подписывается на изменения файла конфигурации и перечитывает
// секцию pricing. onChange вызывается после каждого успешного обновления и
// может быть nil.
func WatchPricing(store *PricingStore, onChange func(PricingValues)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		v := PricingValues{
			CurrencyRate:       viper.GetFloat64("pricing.currencyRate"),
			Markup:             viper.GetFloat64("pricing.markup"),
			ChangeThresholdPct: viper.GetFloat64("pricing.changeThresholdPct"),
		}
		store.set(v)
		if onChange != nil {
			onChange(v)
		}
	})
	viper.WatchConfig()
}
