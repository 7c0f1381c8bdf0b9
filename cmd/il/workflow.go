package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"indicatorline/internal/app"
	"indicatorline/internal/domain"
	"indicatorline/internal/engine"
	"indicatorline/internal/repo"
)

func indicatorCmd() *cobra.Command {
	ind := &cobra.Command{Use: "indicator", Short: "Manage indicators"}

	ind.AddCommand(&cobra.Command{
		Use:   "publish <association-id>",
		Short: "Publish an indicator's programme association",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				changed, err := a.Engine.PublishAssociation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if !changed {
					fmt.Println("already published")
				}
				return nil
			})
		},
	})

	var level1, level2 string
	verifiers := &cobra.Command{
		Use:   "verifiers <indicator-id>",
		Short: "Set the verifier roles of an unpublished indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.SetIndicatorVerifiers(ctx, args[0], optionalString(level1), optionalString(level2))
			})
		},
	}
	verifiers.Flags().StringVar(&level1, "level1", "", "verifier role id for level 1 (empty clears)")
	verifiers.Flags().StringVar(&level2, "level2", "", "verifier role id for level 2 (empty clears)")
	ind.AddCommand(verifiers)

	ind.AddCommand(&cobra.Command{
		Use:   "remove <indicator-id>",
		Short: "Remove an unpublished indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveIndicator(ctx, args[0])
			})
		},
	})
	return ind
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Indicator tasks"}

	var f repo.TaskFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	list.Flags().StringVar(&f.EntrepreneurID, "entrepreneur", "", "entrepreneur user id")
	list.Flags().StringVar(&f.OrganisationID, "organisation", "", "organisation id")
	list.Flags().StringVar(&f.ProgrammeID, "programme", "", "programme id")
	list.Flags().StringVar(&f.Status, "status", "", "pending, overdue, submitted, needs_revision or completed")
	list.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	task.AddCommand(list)

	task.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its submission history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				history, err := a.Engine.SubmissionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"task": view, "submissions": history})
			})
		},
	})

	var ent, org, prog string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count an entrepreneur's tasks by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Projections.Summary(ctx, ent, org, prog)
				if err != nil {
					return err
				}
				return printSummary(s)
			})
		},
	}
	summary.Flags().StringVar(&ent, "entrepreneur", "", "entrepreneur user id")
	summary.Flags().StringVar(&org, "organisation", "", "organisation id")
	summary.Flags().StringVar(&prog, "programme", "", "programme id")
	_ = summary.MarkFlagRequired("entrepreneur")
	_ = summary.MarkFlagRequired("organisation")
	_ = summary.MarkFlagRequired("programme")
	task.AddCommand(summary)
	return task
}

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Submissions"}

	var in engine.SubmissionInput
	var files, existing []string
	var title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Submit a value for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			for _, path := range files {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in.Attachments = append(in.Attachments, engine.AttachmentInput{
					Title:  title,
					Upload: &engine.Upload{Name: filepath.Base(path), Reader: f},
				})
			}
			for _, id := range existing {
				in.Attachments = append(in.Attachments, engine.AttachmentInput{Title: title, ExistingAttachmentID: id})
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CreateSubmission(ctx, in, actor)
				if err != nil {
					return err
				}
				// listeners may have moved the submission on; show where it ended up
				detail, err := a.Engine.GetSubmission(ctx, s.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	create.Flags().StringVar(&in.TaskID, "task", "", "task id")
	create.Flags().StringVar(&in.Value, "value", "", "reported value")
	create.Flags().StringVar(&in.Comment, "comment", "", "comment")
	create.Flags().StringArrayVar(&files, "attach", nil, "file to attach (repeatable)")
	create.Flags().StringArrayVar(&existing, "attach-existing", nil, "id of a prior attachment to copy (repeatable)")
	create.Flags().StringVar(&title, "title", "", "attachment title")
	_ = create.MarkFlagRequired("task")
	_ = create.MarkFlagRequired("value")
	sub.AddCommand(create)

	sub.AddCommand(&cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission with its review tasks and reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				detail, err := a.Engine.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	})
	return sub
}

func verifyCmd() *cobra.Command {
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Drive verification by hand",
		Long:  "Verification normally advances on its own; these commands replay a step, for example after fixing a configuration error.",
	}
	verify.AddCommand(&cobra.Command{
		Use:   "process <submission-id>",
		Short: "Start (or resume) verification of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.ProcessSubmissionForVerification(ctx, args[0])
			})
		},
	})
	var level int
	initiate := &cobra.Command{
		Use:   "initiate <submission-id>",
		Short: "Create the review task for one verification level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rt, err := a.Engine.InitiateVerificationForLevel(ctx, args[0], level)
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	initiate.Flags().IntVar(&level, "level", 1, "verification level (1 or 2)")
	verify.AddCommand(initiate)
	verify.AddCommand(&cobra.Command{
		Use:   "complete <submission-id>",
		Short: "Approve a submission and complete its task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				changed, err := a.Engine.CompleteTaskAndSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				if !changed {
					fmt.Println("already terminal")
				}
				return nil
			})
		},
	})
	return verify
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{Use: "review", Short: "Review tasks"}

	var verifier string
	var unassigned, overdue bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending review tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verifier == "" && !unassigned && !overdue {
				if id, err := actorID(); err == nil {
					verifier = id
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var err error
				var items []domain.ReviewTask
				switch {
				case unassigned:
					items, err = a.Engine.UnassignedReviewTasks(ctx, limit)
				case overdue:
					items, err = a.Engine.OverdueReviewTasks(ctx, limit)
				default:
					items, err = a.Engine.PendingReviewTasks(ctx, verifier, limit)
				}
				if err != nil {
					return err
				}
				return printReviewTasks(items)
			})
		},
	}
	list.Flags().StringVar(&verifier, "verifier", "", "verifier user id (defaults to --actor-id)")
	list.Flags().BoolVar(&unassigned, "unassigned", false, "only review tasks without a verifier")
	list.Flags().BoolVar(&overdue, "overdue", false, "only review tasks past their due date")
	list.Flags().IntVar(&limit, "limit", 100, "max rows")
	review.AddCommand(list)

	review.AddCommand(decisionCmd("approve", true))
	review.AddCommand(decisionCmd("reject", false))

	var user string
	assign := &cobra.Command{
		Use:   "assign <review-task-id>",
		Short: "Assign a review task to a verifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rt, err := a.Engine.AssignReviewTask(ctx, args[0], user, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	assign.Flags().StringVar(&user, "user", "", "verifier user id")
	_ = assign.MarkFlagRequired("user")
	review.AddCommand(assign)
	return review
}

func decisionCmd(use string, approved bool) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   use + " <review-task-id>",
		Short: fmt.Sprintf("Record a %s decision on a review task", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rv, err := a.Engine.RecordReview(ctx, engine.ReviewInput{
					ReviewTaskID: args[0],
					ReviewerID:   actor,
					Approved:     approved,
					Comment:      comment,
				})
				if err != nil {
					return err
				}
				detail, err := a.Engine.GetSubmission(ctx, rv.SubmissionID)
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
