package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewCampaignCommands создаёт команды запуска и просмотра кампаний.
func NewCampaignCommands(clientFn func() *Client, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newCampaignStartCmd(clientFn, outputFn),
		newCampaignListCmd(clientFn, outputFn),
		newCampaignShowCmd(clientFn, outputFn),
		newCampaignEventsCmd(clientFn, outputFn),
		newCampaignWatchCmd(clientFn, outputFn),
	}
}

var campaignHeaders = []string{"ID", "CAMPAIGN_ID", "STATUS", "STAGE", "ATTEMPT", "WAITING", "CREATED"}

func campaignRow(c CampaignResponse) []string {
	waiting := "-"
	if c.WaitingOn != "" {
		waiting = c.WaitingOn
	}
	return []string{c.ID, c.CampaignID, c.Status, c.CurrentStage, strconv.Itoa(c.Attempt), waiting, c.CreatedAt}
}

func newCampaignStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var req StartCampaignRequest

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new campaign",
		Long: `Start a new campaign.

Parameters come from flags or from a YAML/JSON file (--file). Flags that are
set explicitly override values from the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body := req
			if file != "" {
				fromFile, err := readCampaignFile(file)
				if err != nil {
					return err
				}
				body = mergeCampaignFlags(cmd, fromFile, req)
			}

			campaign, err := client.StartCampaign(body)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Campaign started: %s (%s)", campaign.ID, campaign.CampaignID))
			out.Print(campaignHeaders, [][]string{campaignRow(*campaign)}, campaign)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read campaign parameters from a YAML or JSON file")
	cmd.Flags().StringVar(&req.CampaignID, "id", "", "Business campaign ID (generated if empty)")
	cmd.Flags().StringVar(&req.CampaignName, "name", "", "Campaign name")
	cmd.Flags().Float64Var(&req.Budget, "budget", 0, "Total budget")
	cmd.Flags().StringSliceVar(&req.Channels, "channel", nil, "Channel: email, sms, social, video, display, search (repeatable)")
	cmd.Flags().StringSliceVar(&req.Objectives, "objective", nil, "Campaign objective (repeatable)")
	cmd.Flags().StringVar(&req.TargetAudience.Demographics, "demographics", "", "Target demographics")
	cmd.Flags().StringVar(&req.TargetAudience.Location, "location", "", "Target location")
	cmd.Flags().StringSliceVar(&req.TargetAudience.Interests, "interest", nil, "Audience interest (repeatable)")

	return cmd
}

// readCampaignFile читает параметры кампании из YAML. JSON — подмножество
// YAML, поэтому читается тем же путём.
func readCampaignFile(path string) (StartCampaignRequest, error) {
	var req StartCampaignRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}

	// Поля описаны json-тегами, поэтому перекладываем через JSON.
	converted, err := json.Marshal(raw)
	if err != nil {
		return req, fmt.Errorf("convert %s: %w", path, err)
	}
	if err := json.Unmarshal(converted, &req); err != nil {
		return req, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}

func mergeCampaignFlags(cmd *cobra.Command, base, flags StartCampaignRequest) StartCampaignRequest {
	changed := cmd.Flags().Changed
	if changed("id") {
		base.CampaignID = flags.CampaignID
	}
	if changed("name") {
		base.CampaignName = flags.CampaignName
	}
	if changed("budget") {
		base.Budget = flags.Budget
	}
	if changed("channel") {
		base.Channels = flags.Channels
	}
	if changed("objective") {
		base.Objectives = flags.Objectives
	}
	if changed("demographics") {
		base.TargetAudience.Demographics = flags.TargetAudience.Demographics
	}
	if changed("location") {
		base.TargetAudience.Location = flags.TargetAudience.Location
	}
	if changed("interest") {
		base.TargetAudience.Interests = flags.TargetAudience.Interests
	}
	return base
}

func newCampaignListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListCampaignsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			campaigns, err := client.ListCampaigns(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(campaigns))
			for i, c := range campaigns {
				rows[i] = campaignRow(c)
			}

			out.Print(campaignHeaders, rows, campaigns)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", "", "Filter by current stage (research, creative, golive, measurement, done, failed)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, DONE, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newCampaignShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show campaign status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			campaign, err := client.GetCampaign(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(campaign)
				return nil
			}

			out.Details([][2]string{
				{"ID", campaign.ID},
				{"Campaign", campaign.CampaignID},
				{"Name", campaign.Name},
				{"Status", campaign.Status},
				{"Stage", campaign.CurrentStage},
				{"Attempt", strconv.Itoa(campaign.Attempt)},
				{"Waiting on", campaign.WaitingOn},
				{"Failed stage", campaign.FailedStage},
				{"Failure", campaign.FailureKind},
				{"Error", campaign.LastError},
				{"Started", campaign.StartedAt},
				{"Finished", campaign.FinishedAt},
			})

			if len(campaign.Stages) > 0 {
				fmt.Fprintln(out.w)
				rows := make([][]string, 0, len(campaign.Stages))
				for _, stage := range stageOrder {
					st, ok := campaign.Stages[stage]
					if !ok {
						continue
					}
					rows = append(rows, []string{stage, st.Phase, strconv.Itoa(st.Attempt), st.Decision, orDash(st.Gate), orDash(st.Feedback)})
				}
				out.Table([]string{"STAGE", "PHASE", "ATTEMPT", "DECISION", "GATE", "FEEDBACK"}, rows)
			}
			return nil
		},
	}
}

func newCampaignEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var after int64

	cmd := &cobra.Command{
		Use:   "events ID",
		Short: "Show campaign history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(args[0], after)
			if err != nil {
				return err
			}

			rows := make([][]string, len(events))
			for i, ev := range events {
				rows[i] = eventRow(ev)
			}

			out.Print(eventHeaders, rows, events)
			return nil
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "Show only events with seq greater than this")

	return cmd
}

func newCampaignWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Stream campaign events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			err := client.Watch(ctx, args[0], func(ev EventResponse) {
				out.Line(eventRow(ev), ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

var stageOrder = []string{"research", "creative", "golive", "measurement"}

var eventHeaders = []string{"SEQ", "TYPE", "STAGE", "ATTEMPT", "KEY", "AT"}

func eventRow(ev EventResponse) []string {
	attempt := "-"
	if ev.Attempt > 0 {
		attempt = strconv.Itoa(ev.Attempt)
	}
	return []string{strconv.FormatInt(ev.Seq, 10), ev.Type, orDash(ev.Stage), attempt, ev.Key, ev.CreatedAt}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
