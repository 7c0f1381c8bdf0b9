package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicatorline/internal/config"
	"indicatorline/internal/db"
	"indicatorline/internal/domain"
	"indicatorline/internal/engine"
	"indicatorline/internal/events"
	"indicatorline/internal/migrate"
	"indicatorline/internal/repo"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(evtType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == evtType {
			n++
		}
	}
	return n
}

func (r *recorder) last(evtType string) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == evtType {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

type activityRecorder struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (a *activityRecorder) LogActivity(_ context.Context, description string, subject engine.Subject, _ string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, description+":"+subject.ID)
	if a.fail {
		return errors.New("activity store down")
	}
	return nil
}

func (a *activityRecorder) count(description string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, l := range a.lines {
		if len(l) > len(description) && l[:len(description)+1] == description+":" {
			n++
		}
	}
	return n
}

type cacheRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (c *cacheRecorder) Invalidate(ent, org, prog string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, ent+"/"+org+"/"+prog)
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Conn     *sql.DB
	Repo     repo.Repo
	Events   *recorder
	Activity *activityRecorder
	Cache    *cacheRecorder
	Bus      *events.Dispatcher
}

// newTestEnv seeds one entrepreneur in one organisation and programme, with a single mentor
// and a programme manager.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	eng := engine.New(conn, config.Static{})
	eng.Now = func() time.Time { return testNow }
	env := testEnv{
		Ctx:      context.Background(),
		Conn:     conn,
		Repo:     eng.Repo,
		Events:   &recorder{},
		Activity: &activityRecorder{},
		Cache:    &cacheRecorder{},
		Bus:      events.NewDispatcher(nil),
	}
	eng.Sink = events.Fanout{env.Events, env.Bus}
	eng.Activity = env.Activity
	eng.Cache = env.Cache
	env.Engine = eng

	r, ctx := env.Repo, env.Ctx
	for _, role := range []domain.Role{
		{ID: "role-mentor", Slug: "mentor", Name: "Mentor", Permissions: []string{"guide"}},
		{ID: "role-pm", Slug: "programme-manager", Name: "Programme manager"},
		{ID: "role-odd", Slug: "treasurer", Name: "Treasurer"},
	} {
		require.NoError(t, r.InsertRole(ctx, conn, role))
	}
	for _, id := range []string{"ent", "mentor1", "pm1", "admin", "other"} {
		require.NoError(t, r.InsertUser(ctx, conn, domain.User{ID: id, Name: id, CreatedAt: "2024-01-01T00:00:00Z"}))
	}
	require.NoError(t, r.InsertProgramme(ctx, conn, domain.Programme{ID: "prog", Name: "Accelerator", PeriodMonths: 6}))
	require.NoError(t, r.InsertOrganisation(ctx, conn, domain.Organisation{ID: "org", Name: "Acme"}))
	require.NoError(t, r.UpsertEntrepreneur(ctx, conn, "ent", nil))
	require.NoError(t, r.Assign(ctx, conn, domain.Assignment{UserID: "mentor1", RoleID: "role-mentor", ScopeType: domain.ScopeOrganisation, ScopeID: "org", AssignedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.Assign(ctx, conn, domain.Assignment{UserID: "pm1", RoleID: "role-pm", ScopeType: domain.ScopeProgramme, ScopeID: "prog", AssignedAt: "2024-01-01T00:00:00Z"}))
	return env
}

// wire lets events drive the workflow the way the CLI does.
func (env testEnv) wire() {
	env.Engine.Wire(env.Bus)
}

type indicatorOpts struct {
	kind       string
	format     string
	acceptance *string
	v1, v2     *string
}

func str(s string) *string { return &s }

// newTask creates an indicator attached to the programme with one month and a task for it.
func (env testEnv) newTask(t *testing.T, opts indicatorOpts) (domain.Task, string) {
	t.Helper()
	if opts.kind == "" {
		opts.kind = domain.IndicatorSuccess
	}
	if opts.format == "" {
		opts.format = domain.FormatNumeric
	}
	r, ctx, conn := env.Repo, env.Ctx, env.Conn
	ind := domain.Indicator{
		ID: uuid.NewString(), Kind: opts.kind, Name: "Revenue", ResponseFormat: opts.format,
		AcceptanceValue: opts.acceptance, Verifier1RoleID: opts.v1, Verifier2RoleID: opts.v2, CreatedAt: "2024-01-01T00:00:00Z",
	}
	if opts.kind == domain.IndicatorCompliance {
		ind.ComplianceType = domain.ComplianceOther
	}
	require.NoError(t, r.InsertIndicator(ctx, conn, ind))
	assoc := domain.IndicatorProgramme{ID: uuid.NewString(), IndicatorID: ind.ID, ProgrammeID: "prog", Status: domain.AssociationPending}
	require.NoError(t, r.InsertAssociation(ctx, conn, assoc))
	month := domain.IndicatorMonth{ID: uuid.NewString(), AssociationID: assoc.ID, ProgrammeMonth: 1, TargetValue: str("100")}
	require.NoError(t, r.InsertMonth(ctx, conn, month))
	task := domain.Task{
		ID: uuid.NewString(), EntrepreneurID: str("ent"), OrganisationID: str("org"), ProgrammeID: str("prog"),
		MonthType: domain.MonthKindFor(ind.Kind), MonthID: month.ID, IndicatorType: ind.Kind, IndicatorID: ind.ID,
		ResponsibleType: domain.ResponsibleUser, ResponsibleUserID: str("ent"),
		DueDate: "2024-03-31T00:00:00Z", Status: domain.TaskPending,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}
	require.NoError(t, r.InsertTask(ctx, conn, task))
	return task, assoc.ID
}

func (env testEnv) submit(t *testing.T, taskID, value string) domain.Submission {
	t.Helper()
	sub, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionInput{TaskID: taskID, Value: value}, "ent")
	require.NoError(t, err)
	return sub
}

func (env testEnv) reviewTasks(t *testing.T, submissionID string) []domain.ReviewTask {
	t.Helper()
	rts, err := env.Repo.ListReviewTasks(env.Ctx, env.Conn, repo.ReviewTaskFilter{SubmissionID: submissionID})
	require.NoError(t, err)
	return rts
}

func (env testEnv) submission(t *testing.T, id string) domain.Submission {
	t.Helper()
	sub, err := env.Repo.GetSubmission(env.Ctx, env.Conn, id)
	require.NoError(t, err)
	return sub
}

func (env testEnv) task(t *testing.T, id string) domain.Task {
	t.Helper()
	task, err := env.Repo.GetTask(env.Ctx, env.Conn, id)
	require.NoError(t, err)
	return task
}

func (env testEnv) review(t *testing.T, rt domain.ReviewTask, reviewer string, approved bool) domain.SubmissionReview {
	t.Helper()
	rv, err := env.Engine.RecordReview(env.Ctx, engine.ReviewInput{ReviewTaskID: rt.ID, ReviewerID: reviewer, Approved: approved})
	require.NoError(t, err)
	return rv
}

func TestTwoLevelVerificationEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.wire()
	task, _ := env.newTask(t, indicatorOpts{acceptance: str("80"), v1: str("role-mentor"), v2: str("role-pm")})

	sub := env.submit(t, task.ID, "85")
	assert.True(t, sub.IsAchieved)
	assert.Equal(t, domain.SubmissionPendingVerification1, sub.Status)
	assert.Equal(t, domain.TaskSubmitted, env.task(t, task.ID).Status)

	rts := env.reviewTasks(t, sub.ID)
	require.Len(t, rts, 1)
	level1 := rts[0]
	assert.Equal(t, 1, level1.VerifierLevel)
	require.NotNil(t, level1.VerifierUserID)
	assert.Equal(t, "mentor1", *level1.VerifierUserID)
	assert.Equal(t, "2024-03-08T09:00:00Z", level1.DueDate)

	env.review(t, level1, "mentor1", true)
	assert.Equal(t, domain.SubmissionPendingVerification2, env.submission(t, sub.ID).Status)
	rts = env.reviewTasks(t, sub.ID)
	require.Len(t, rts, 2)
	var level2 domain.ReviewTask
	for _, rt := range rts {
		if rt.VerifierLevel == 2 {
			level2 = rt
		}
	}
	require.NotNil(t, level2.VerifierUserID)
	assert.Equal(t, "pm1", *level2.VerifierUserID)
	assert.Equal(t, 0, env.Events.count(events.TypeTaskCompleted))

	env.review(t, level2, "pm1", true)
	assert.Equal(t, 1, env.Events.count(events.TypeTaskCompleted))
	assert.Equal(t, domain.SubmissionApproved, env.submission(t, sub.ID).Status)
	done := env.task(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	require.NotNil(t, done.IsAchieved)
	assert.True(t, *done.IsAchieved)

	assert.Equal(t, 2, env.Events.count(events.TypeAwaitingVerification))
	assert.Equal(t, 2, env.Activity.count("review task created"))
	assert.Contains(t, env.Cache.keys, "ent/org/prog")
}

func TestInitiateVerificationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor")})
	sub := env.submit(t, task.ID, "10")

	first, err := env.Engine.InitiateVerificationForLevel(env.Ctx, sub.ID, 1)
	require.NoError(t, err)
	second, err := env.Engine.InitiateVerificationForLevel(env.Ctx, sub.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, err := env.Repo.CountReviewTasks(env.Ctx, env.Conn, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, env.Events.count(events.TypeAwaitingVerification))
	assert.Equal(t, 1, env.Activity.count("review task created"))
}

func TestConcurrentInitiationCreatesOneReviewTask(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor")})
	sub := env.submit(t, task.ID, "10")

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt, err := env.Engine.InitiateVerificationForLevel(env.Ctx, sub.ID, 1)
			ids[i], errs[i] = rt.ID, err
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, env.reviewTasks(t, sub.ID), 1)
	assert.Equal(t, 1, env.Events.count(events.TypeAwaitingVerification))
}

func TestNoVerificationCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{acceptance: str("5")})

	// a submission recorded before the indicator lost its verifiers
	sub := domain.Submission{ID: uuid.NewString(), TaskID: task.ID, Value: "7", IsAchieved: true,
		Status: domain.SubmissionPendingVerification1, SubmitterID: "ent", SubmittedAt: "2024-02-01T00:00:00Z", UpdatedAt: "2024-02-01T00:00:00Z"}
	require.NoError(t, env.Repo.InsertSubmission(env.Ctx, env.Conn, sub))
	require.NoError(t, env.Repo.UpdateTaskStatus(env.Ctx, env.Conn, task.ID, domain.TaskSubmitted, nil, "2024-02-01T00:00:00Z"))

	require.NoError(t, env.Engine.ProcessSubmissionForVerification(env.Ctx, sub.ID))
	got := env.task(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	require.NotNil(t, got.IsAchieved)
	assert.True(t, *got.IsAchieved)
	assert.Empty(t, env.reviewTasks(t, sub.ID))

	require.NoError(t, env.Engine.ProcessSubmissionForVerification(env.Ctx, sub.ID))
	assert.Equal(t, domain.TaskCompleted, env.task(t, task.ID).Status)
}

func TestSubmissionWithoutVerifiersIsApprovedOnCreation(t *testing.T) {
	env := newTestEnv(t)
	env.wire()
	task, _ := env.newTask(t, indicatorOpts{acceptance: str("5")})

	sub := env.submit(t, task.ID, "4")
	assert.Equal(t, domain.SubmissionApproved, sub.Status)
	assert.False(t, sub.IsAchieved)
	got := env.task(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	require.NotNil(t, got.IsAchieved)
	assert.False(t, *got.IsAchieved)
	assert.Empty(t, env.reviewTasks(t, sub.ID))

	_, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionInput{TaskID: task.ID, Value: "9"}, "ent")
	var te engine.TransitionError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestLevelOneOnlyApprovalCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.wire()
	task, _ := env.newTask(t, indicatorOpts{acceptance: str("80"), v1: str("role-mentor")})
	sub := env.submit(t, task.ID, "79")
	assert.False(t, sub.IsAchieved)

	rts := env.reviewTasks(t, sub.ID)
	require.Len(t, rts, 1)
	env.review(t, rts[0], "mentor1", true)

	assert.Equal(t, 1, env.Events.count(events.TypeTaskCompleted))
	assert.Len(t, env.reviewTasks(t, sub.ID), 1)
	assert.Equal(t, domain.SubmissionApproved, env.submission(t, sub.ID).Status)
	got := env.task(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	require.NotNil(t, got.IsAchieved)
	assert.False(t, *got.IsAchieved)
}

func TestLevelOneApprovalWithoutListenersOnlyEscalates(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor"), v2: str("role-pm")})
	sub := env.submit(t, task.ID, "1")
	rt, err := env.Engine.InitiateVerificationForLevel(env.Ctx, sub.ID, 1)
	require.NoError(t, err)
	rv := env.review(t, rt, "mentor1", true)

	require.NoError(t, env.Engine.HandleApprovedReview(env.Ctx, rv.ID))
	assert.Equal(t, domain.SubmissionPendingVerification2, env.submission(t, sub.ID).Status)
	// redelivery does not create a second level-2 review task
	require.NoError(t, env.Engine.HandleApprovedReview(env.Ctx, rv.ID))
	assert.Len(t, env.reviewTasks(t, sub.ID), 2)
	assert.Equal(t, domain.TaskSubmitted, env.task(t, task.ID).Status)
}

func TestRejectionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.wire()
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor"), v2: str("role-pm")})
	sub := env.submit(t, task.ID, "12")
	rts := env.reviewTasks(t, sub.ID)
	require.Len(t, rts, 1)

	rv := env.review(t, rts[0], "mentor1", false)
	assert.Equal(t, domain.SubmissionRejected, env.submission(t, sub.ID).Status)
	assert.Equal(t, domain.TaskNeedsRevision, env.task(t, task.ID).Status)
	assert.Len(t, env.reviewTasks(t, sub.ID), 1)
	assert.Equal(t, 1, env.Events.count(events.TypeSubmissionRejected))

	require.NoError(t, env.Engine.HandleRejectedReview(env.Ctx, rv.ID))
	_, err := env.Engine.InitiateVerificationForLevel(env.Ctx, sub.ID, 2)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	assert.Len(t, env.reviewTasks(t, sub.ID), 1)

	// resubmission restarts the cycle on the same task
	again := env.submit(t, task.ID, "20")
	assert.Equal(t, domain.TaskSubmitted, env.task(t, task.ID).Status)
	assert.Len(t, env.reviewTasks(t, again.ID), 1)
	history, err := env.Engine.SubmissionHistory(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, again.ID, history[0].ID)
}

func TestCompleteTaskAndSubmissionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor")})
	sub := env.submit(t, task.ID, "3")

	ok, err := env.Engine.CompleteTaskAndSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.Engine.CompleteTaskAndSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := env.Repo.CountEvents(env.Ctx, env.Conn, events.TypeSubmissionCompleted, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.TaskCompleted, env.task(t, task.ID).Status)

	_, err = env.Engine.CompleteTaskAndSubmission(env.Ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrSubmissionNotFound)
}

func TestConcurrentCompletionAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.newTask(t, indicatorOpts{v1: str("role-mentor")})
	sub := env.submit(t, task.ID, "3")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.Engine.CompleteTaskAndSubmission(env.Ctx, sub.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, env.Events.count(events.TypeSubmissionCompleted))
}

func TestBooleanAchievementUsesStoredConvention(t *testing.T) {
	env := newTestEnv(t)
	yes, _ := env.newTask(t, indicatorOpts{format: domain.FormatBoolean, acceptance: str("1"), v1: str("role-mentor")})
	no, _ := env.newTask(t, indicatorOpts{format: domain.FormatBoolean, acceptance: str("1"), v1: str("role-mentor")})

	assert.True(t, env.submit(t, yes.ID, "true").IsAchieved)
	assert.False(t, env.submit(t, no.ID, "false").IsAchieved)
}

func TestNumericAchievementBoundary(t *testing.T) {
	env := newTestEnv(t)
	at, _ := env.newTask(t, indicatorOpts{acceptance: str("80"), v1: str("role-mentor")})
	below, _ := env.newTask(t, indicatorOpts{acceptance: str("80"), v1: str("role-mentor")})
	assert.True(t, env.submit(t, at.ID, "80").IsAchieved)
	assert.False(t, env.submit(t, below.ID, "79").IsAchieved)

	open, _ := env.newTask(t, indicatorOpts{kind: domain.IndicatorCompliance, v1: str("role-mentor")})
	assert.True(t, env.submit(t, open.ID, "0").IsAchieved)
}

