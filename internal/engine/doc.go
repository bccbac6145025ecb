// Package engine — durable execution для одной кампании.
//
// Включает:
//   - runtime.go — Runtime: durable шаги, сигналы, now(), дочерние scope
//   - history.go — HistoryStore и запись событий с retry
//   - clock.go   — источник времени (подменяется в тестах)
//
// Runtime создаётся на каждый run через Load: история run загружается
// в индекс по ключу события, и при повторном проходе кода (после рестарта)
// уже записанные результаты шагов, значения now() и решения возвращаются
// из истории без повторного выполнения. Ключ события строится из пути
// scope (стадия, попытка, под-задача) и имени шага, поэтому replay
// детерминирован и не зависит от порядка завершения параллельных веток.
package engine
