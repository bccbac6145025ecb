// Package mq — транспорт кампаний поверх RabbitMQ.
//
// Файлы:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, очереди, bindings
//   - publisher.go  — campaign.pending и campaign.decision
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Новые кампании идут через campaign.runs → campaigns.pending и
// разбираются экземплярами orchestrator по одной. Решения ревьюеров
// рассылаются через fanout campaign.decisions в очередь каждого
// экземпляра: run держит только один экземпляр, остальные решение
// пропускают.
package mq
