// Campaign CLI — инструмент командной строки для кампаний.
//
// Использование:
//
//	campaign [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	start        Запустить кампанию
//	list, show   Список и статус кампаний
//	events       История run
//	watch        Поток событий run до завершения
//	decide       Решение ревьюера по стадии
//	approve-all  Одобрить все стадии подряд
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/campaign-orchestrator/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "campaign",
		Short:         "Campaign CLI — run and review marketing campaigns",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("CAMPAIGN_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewCampaignCommands(clientFn, outputFn)...)
	rootCmd.AddCommand(
		cli.NewDecideCmd(clientFn, outputFn),
		cli.NewApproveAllCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
