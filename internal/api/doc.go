// Package api содержит HTTP API кампаний.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - campaign_handler.go — запуск кампаний, статус, решения ревьюеров
//   - watch_handler.go    — история run и поток событий через websocket
//
// API не выполняет стадии сам: новые кампании уходят оркестратору через
// RabbitMQ, решения пишутся в inbox run (RabbitMQ только будит gate), а
// статус читается из проекции run.
package api
