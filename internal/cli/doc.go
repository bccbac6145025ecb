// Package cli — клиент командной строки для API кампаний.
//
// Пакет общается с сервером только по HTTP и websocket и не импортирует
// внутренние пакеты: нужные типы ответов объявлены в client.go заново.
//
// Client оборачивает запросы к /api/v1/campaigns. Ошибки API приходят как
// *APIError с HTTP-статусом и кодом (например NOT_WAITING), по которому
// команды решают, что делать дальше:
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.GetCampaign(id)
//
// Output печатает таблицы (text/tabwriter), блоки "ключ: значение" и
// построчный поток событий. С --json данные идут в stdout как JSON, а
// служебные сообщения всегда в stderr, поэтому вывод можно отдавать в jq.
//
// Команды:
//   - start, list, show, events, watch
//   - decide ID STAGE approve|reject|request_changes [--feedback]
//   - approve-all ID [--max N] — dev-инструмент, одобряет все стадии подряд
//
// Фабрики команд получают clientFn и outputFn: Client и Output создаются
// лениво, после разбора PersistentFlags.
package cli
