package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewDecideCmd создаёт команду отправки решения ревьюера.
func NewDecideCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		feedback string
		attempt  int
	)

	cmd := &cobra.Command{
		Use:   "decide ID STAGE approve|reject|request_changes",
		Short: "Send a reviewer decision for a stage",
		Long: `Send a reviewer decision for the stage whose approval gate is open.

The API answers 409 NOT_WAITING if the campaign is not waiting on STAGE
or the gate is on another --attempt. request_changes reruns the stage
with --feedback passed to its steps.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			d, err := client.SendDecision(args[0], DecisionRequest{
				Stage:    args[1],
				Attempt:  attempt,
				Decision: args[2],
				Feedback: feedback,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Decision accepted: %s %s", d.Stage, d.Action))
			out.Print(
				[]string{"RUN_ID", "STAGE", "ATTEMPT", "DECISION"},
				[][]string{{d.RunID, d.Stage, strconv.Itoa(d.Attempt), d.Decision}},
				d,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Reviewer feedback (used by request_changes)")
	cmd.Flags().IntVar(&attempt, "attempt", 0, "Gate attempt the decision is for (0 = current)")

	return cmd
}

// NewApproveAllCmd создаёт команду, которая одобряет каждую стадию,
// пока кампания не завершится.
func NewApproveAllCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts AutoApproveOpts

	cmd := &cobra.Command{
		Use:   "approve-all ID",
		Short: "Approve every stage until the campaign finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts.OnDecision = func(d DecisionResponse) {
				out.Success(fmt.Sprintf("approved %s", d.Stage))
			}

			campaign, sent, err := AutoApprove(ctx, client, args[0], opts)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("%d decision(s) sent", sent))
			out.Print(campaignHeaders, [][]string{campaignRow(*campaign)}, campaign)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Max, "max", 0, "Stop after this many approvals (0 = no limit)")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", time.Second, "Status poll interval")
	cmd.Flags().DurationVar(&opts.Resend, "resend", 30*time.Second, "Resend a decision if the gate is still open after this long")

	return cmd
}

// ErrMaxDecisions — approve-all отправил --max решений, а кампания ещё идёт.
var ErrMaxDecisions = errors.New("decision limit reached before campaign finished")

// AutoApproveOpts — параметры AutoApprove.
type AutoApproveOpts struct {
	Max          int
	PollInterval time.Duration
	Resend       time.Duration
	OnDecision   func(DecisionResponse)
}

// AutoApprove одобряет каждую открытую стадию, пока кампания не завершится.
// Возвращает последнее состояние кампании и число отправленных решений.
//
// Проекция может показывать открытый gate ещё некоторое время после
// отправки решения, поэтому одна и та же (стадия, попытка) повторно
// одобряется только через Resend.
func AutoApprove(ctx context.Context, client *Client, id string, opts AutoApproveOpts) (*CampaignResponse, int, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Resend <= 0 {
		opts.Resend = 30 * time.Second
	}

	sent := 0
	lastGate := ""
	var lastSent time.Time

	for {
		campaign, err := client.GetCampaign(id)
		if err != nil {
			return nil, sent, err
		}
		if campaign.IsFinished() {
			return campaign, sent, nil
		}

		if campaign.WaitingOn != "" {
			gate := campaign.WaitingOn + "/" + strconv.Itoa(campaign.Attempt)
			if gate != lastGate || time.Since(lastSent) >= opts.Resend {
				if opts.Max > 0 && sent >= opts.Max {
					return campaign, sent, ErrMaxDecisions
				}

				d, err := client.SendDecision(id, DecisionRequest{Stage: campaign.WaitingOn, Attempt: campaign.Attempt, Decision: "approve"})
				var apiErr *APIError
				switch {
				case err == nil:
					sent++
					lastGate = gate
					lastSent = time.Now()
					if opts.OnDecision != nil {
						opts.OnDecision(*d)
					}
				case errors.As(err, &apiErr) && apiErr.Code == "NOT_WAITING":
					// Gate успел закрыться, статус перечитаем.
				default:
					return campaign, sent, err
				}
			}
		}

		select {
		case <-ctx.Done():
			return campaign, sent, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}
