package app_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicatorline/internal/app"
	"indicatorline/internal/config"
	"indicatorline/internal/directory"
	"indicatorline/internal/domain"
	"indicatorline/internal/engine"
)

const seed = `
roles:
  - {id: role-mentor, slug: mentor, permissions: [guide]}
users:
  - {id: ent, name: Ada}
  - {id: mentor1, name: Mentor}
programmes:
  - {id: prog, name: Growth}
organisations:
  - {id: org, name: Acme}
entrepreneurs:
  - {user: ent}
assignments:
  - {user: mentor1, role: role-mentor, scope_type: organisation, scope_id: org}
indicators:
  - id: ind
    kind: success
    name: Customers
    response_format: numeric
    acceptance_value: "10"
    verifier_1_role: role-mentor
    programmes:
      - programme: prog
        months: [{month: 1}]
tasks:
  - {id: task-1, entrepreneur: ent, organisation: org, programme: prog, indicator: ind, month: 1, due_date: "2099-01-31T00:00:00Z"}
`

func TestInitWritesConfigOnce(t *testing.T) {
	ws := t.TempDir()
	written, err := app.Init(ws, false)
	require.NoError(t, err)
	assert.True(t, written)
	_, err = os.Stat(config.Path(ws))
	require.NoError(t, err)

	written, err = app.Init(ws, false)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestOpenWiresWorkflow(t *testing.T) {
	ws := t.TempDir()
	_, err := app.Init(ws, false)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := app.Open(ctx, ws, nil)
	require.NoError(t, err)
	defer a.Close()

	doc, err := directory.Parse([]byte(seed))
	require.NoError(t, err)
	_, err = a.Importer().Import(ctx, doc)
	require.NoError(t, err)

	sub, err := a.Engine.CreateSubmission(ctx, engine.SubmissionInput{TaskID: "task-1", Value: "12"}, "ent")
	require.NoError(t, err)

	pending, err := a.Engine.PendingReviewTasks(ctx, "mentor1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = a.Engine.RecordReview(ctx, engine.ReviewInput{ReviewTaskID: pending[0].ID, ReviewerID: "mentor1", Approved: true})
	require.NoError(t, err)

	detail, err := a.Engine.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionApproved, detail.Submission.Status)

	view, err := a.Engine.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, view.Status)

	s, err := a.Projections.Summary(ctx, "ent", "org", "prog")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed())

	trail, err := a.Activity.For(ctx, engine.Subject{Type: "submission", ID: sub.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, trail)
}

func TestOpenRejectsUnknownDesignation(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("roles:\n  designations: [treasurer]\n"), 0o644))
	_, err := app.Open(context.Background(), ws, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treasurer")
}

func TestOpenFollowsConfigEdits(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("workflow:\n  review_window_days: 3\n"), 0o644))
	a, err := app.Open(context.Background(), ws, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 3, a.Live.ReviewWindowDays())

	require.NoError(t, os.WriteFile(config.Path(ws), []byte("workflow:\n  review_window_days: 14\n"), 0o644))
	assert.Eventually(t, func() bool { return a.Live.ReviewWindowDays() == 14 }, 5*time.Second, 20*time.Millisecond)
}
