package config

import "errors"

// Ошибки конфигурации.
var (
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrMissingDatabaseURL = errors.New("DB_URL is required")
	ErrInvalidValue       = errors.New("invalid config value")

	// ErrInvalidPipeline — файл политик стадий некорректен.
	ErrInvalidPipeline = errors.New("invalid pipeline config")
)
