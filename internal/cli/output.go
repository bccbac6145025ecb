package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output поверх stdout/stderr. Если jsonMode=true,
// данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return newOutputTo(os.Stdout, os.Stderr, jsonMode)
}

func newOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// Details выводит пары "ключ: значение" выровненным блоком.
// Пустые значения пропускаются.
func (o *Output) Details(pairs [][2]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 1, ' ', 0)
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	tw.Flush()
}

// Line выводит одну запись потока: строку JSON или колонки через два пробела.
func (o *Output) Line(fields []string, jsonData any) {
	if o.jsonMode {
		data, err := json.Marshal(jsonData)
		if err != nil {
			o.Error(err.Error())
			return
		}
		fmt.Fprintln(o.w, string(data))
		return
	}
	fmt.Fprintln(o.w, strings.Join(fields, "  "))
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}
