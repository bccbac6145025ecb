// Package orchestrator выполняет кампании.
//
// Orchestrator отвечает за:
//   - запуск новых кампаний из очереди campaigns.pending
//   - продолжение прерванных кампаний по истории (resume sweep по cron)
//   - владение run через lease, чтобы run выполнялся одним экземпляром
//   - доставку решений ревьюеров из inbox в ожидающий approval gate
//   - поддержку проекции run (campaign_runs) через Journal
//
// Само выполнение стадий описано в пакете campaign.
package orchestrator
