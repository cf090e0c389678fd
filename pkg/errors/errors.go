package errors

import "errors"

// Общие ошибки уровня инфраструктуры, используемые адаптерами сервиса.
var (
	// ErrCacheMiss возвращается кэшем, когда значение по ключу не найдено
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotFound возвращается хранилищем, когда запись не найдена
	ErrNotFound = errors.New("not found")
)
