package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"indicatorline/internal/app"
	"indicatorline/internal/cache"
	"indicatorline/internal/domain"
	"indicatorline/internal/engine"
)

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log and audit trail",
		Long:  "Every workflow fact lands in the event log; the audit trail records who did what to a subject.",
	}

	var n int
	var entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Repo.ListEvents(ctx, n, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, relative(e.TS), e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)

	var subjectType string
	activity := &cobra.Command{
		Use:   "activity <subject-id>",
		Short: "Show the audit trail of a submission or review task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				trail, err := a.Activity.For(ctx, engine.Subject{Type: subjectType, ID: args[0]})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(trail)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "Description", "Causer", "Properties"})
				for _, act := range trail {
					tw.AppendRow(table.Row{relative(act.TS), act.Description, act.CauserID, act.Properties})
				}
				tw.Render()
				return nil
			})
		},
	}
	activity.Flags().StringVar(&subjectType, "type", "submission", "subject type (submission or review_task)")
	log.AddCommand(activity)
	return log
}

func notifyCmd() *cobra.Command {
	notify := &cobra.Command{Use: "notify", Short: "Webhook delivery"}
	var once, fromStart bool
	var interval time.Duration
	run := &cobra.Command{
		Use:   "run",
		Short: "Deliver events to the configured webhooks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d := a.Webhooks()
				d.FromStart = fromStart
				if interval > 0 {
					d.Interval = interval
				}
				if once {
					fmt.Printf("delivered %s events\n", humanize.Comma(int64(d.DispatchOnce(ctx))))
					return nil
				}
				if err := d.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&once, "once", false, "run a single delivery round")
	run.Flags().BoolVar(&fromStart, "from-start", false, "replay the whole event log")
	run.Flags().DurationVar(&interval, "interval", 0, "poll interval")
	notify.AddCommand(run)
	return notify
}

func printTasks(items []engine.TaskView) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Indicator", "Entrepreneur", "Status", "Due"})
	for _, t := range items {
		status := t.DisplayStatus
		if t.Orphaned {
			status += " (orphaned)"
		}
		tw.AppendRow(table.Row{t.ID, t.IndicatorID, deref(t.EntrepreneurID), status, relative(t.DueDate)})
	}
	tw.Render()
	return nil
}

func printReviewTasks(items []domain.ReviewTask) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Submission", "Level", "Verifier", "Due"})
	for _, rt := range items {
		verifier := deref(rt.VerifierUserID)
		if rt.Unassigned() {
			verifier = "(unassigned)"
		}
		tw.AppendRow(table.Row{rt.ID, rt.SubmissionID, rt.VerifierLevel, verifier, relative(rt.DueDate)})
	}
	tw.Render()
	return nil
}

func printSummary(s cache.Summary) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	statuses := make([]string, 0, len(s.Counts))
	for st := range s.Counts {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	tw := newTable()
	tw.AppendHeader(table.Row{"Status", "Tasks"})
	for _, st := range statuses {
		tw.AppendRow(table.Row{st, s.Counts[st]})
	}
	tw.AppendFooter(table.Row{"completed", fmt.Sprintf("%d / %d", s.Completed(), s.Total())})
	tw.Render()
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

// relative renders an RFC3339 timestamp as "3 days ago" / "2 weeks from now".
func relative(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
