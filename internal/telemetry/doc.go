// Package telemetry — логи и метрики кампаний.
//
// logging.go настраивает slog (json или text) и добавляет к логгеру
// атрибуты run: run_id, campaign_id, stage.
//
// metrics.go строит Prometheus метрики из событий истории: каждое
// записанное событие проходит через Metrics.ObserveEvent, поэтому
// счётчики не расходятся с историей run.
package telemetry
