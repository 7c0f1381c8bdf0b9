package domain

import "time"

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Role struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

type Organisation struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	DeliveryLocationID *string `json:"delivery_location_id,omitempty"`
	TenantID           *string `json:"tenant_id,omitempty"`
}

type Tenant struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ClusterID *string `json:"cluster_id,omitempty"`
}

type Programme struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PeriodMonths int    `json:"period_months"`
}

// Assignment scopes a role to one node of the organisational graph.
type Assignment struct {
	UserID     string `json:"user_id"`
	RoleID     string `json:"role_id"`
	ScopeType  string `json:"scope_type" enum:"organisation,programme,delivery_location,cluster"`
	ScopeID    string `json:"scope_id"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
}

const (
	ScopeOrganisation     = "organisation"
	ScopeProgramme        = "programme"
	ScopeDeliveryLocation = "delivery_location"
	ScopeCluster          = "cluster"
)

type Indicator struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind" enum:"success,compliance"`
	Name            string  `json:"name"`
	ResponseFormat  string  `json:"response_format" enum:"boolean,numeric,percentage,monetary"`
	AcceptanceValue *string `json:"acceptance_value,omitempty"`
	Verifier1RoleID *string `json:"verifier_1_role_id,omitempty"`
	Verifier2RoleID *string `json:"verifier_2_role_id,omitempty"`
	ComplianceType  string  `json:"compliance_type,omitempty" enum:"element-progress,attendance-learning,attendance-mentoring,other"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

const (
	IndicatorSuccess    = "success"
	IndicatorCompliance = "compliance"

	FormatBoolean    = "boolean"
	FormatNumeric    = "numeric"
	FormatPercentage = "percentage"
	FormatMonetary   = "monetary"

	ComplianceElementProgress     = "element-progress"
	ComplianceAttendanceLearning  = "attendance-learning"
	ComplianceAttendanceMentoring = "attendance-mentoring"
	ComplianceOther               = "other"
)

// RequiresVerification reports whether at least one verifier role is configured.
func (i Indicator) RequiresVerification() bool {
	return i.Verifier1RoleID != nil || i.Verifier2RoleID != nil
}

// VerifierRoleID returns the role configured for a verification level.
func (i Indicator) VerifierRoleID(level int) (string, bool) {
	var id *string
	switch level {
	case 1:
		id = i.Verifier1RoleID
	case 2:
		id = i.Verifier2RoleID
	}
	if id == nil || *id == "" {
		return "", false
	}
	return *id, true
}

// IndicatorProgramme links an indicator to a programme. Status only moves pending -> published.
type IndicatorProgramme struct {
	ID          string           `json:"id"`
	IndicatorID string           `json:"indicator_id"`
	ProgrammeID string           `json:"programme_id"`
	Status      string           `json:"status" enum:"pending,published"`
	PublishedAt *string          `json:"published_at,omitempty" format:"date-time"`
	Months      []IndicatorMonth `json:"months,omitempty"`
}

const (
	AssociationPending   = "pending"
	AssociationPublished = "published"
)

type IndicatorMonth struct {
	ID             string  `json:"id"`
	AssociationID  string  `json:"association_id"`
	ProgrammeMonth int     `json:"programme_month"`
	TargetValue    *string `json:"target_value,omitempty"`
	DeletedAt      *string `json:"deleted_at,omitempty"`
}

type Task struct {
	ID                string  `json:"id"`
	EntrepreneurID    *string `json:"entrepreneur_id,omitempty"`
	OrganisationID    *string `json:"organisation_id,omitempty"`
	ProgrammeID       *string `json:"programme_id,omitempty"`
	MonthType         string  `json:"month_type"`
	MonthID           string  `json:"month_id"`
	IndicatorType     string  `json:"indicator_type"`
	IndicatorID       string  `json:"indicator_id"`
	ResponsibleType   string  `json:"responsible_type" enum:"user,system"`
	ResponsibleRoleID *string `json:"responsible_role_id,omitempty"`
	ResponsibleUserID *string `json:"responsible_user_id,omitempty"`
	DueDate           string  `json:"due_date" format:"date-time"`
	Status            string  `json:"status" enum:"pending,submitted,needs_revision,completed"`
	IsAchieved        *bool   `json:"is_achieved,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`

	// Indicatable is resolved by the repo; nil when the month or indicator no longer resolves.
	Indicatable Indicatable `json:"-"`
}

const (
	TaskPending       = "pending"
	TaskSubmitted     = "submitted"
	TaskNeedsRevision = "needs_revision"
	TaskCompleted     = "completed"
	// TaskOverdue is a display status only and is never stored.
	TaskOverdue = "overdue"

	ResponsibleUser   = "user"
	ResponsibleSystem = "system"
)

// DisplayStatus derives the status shown to users: pending tasks past their due date are overdue.
func (t Task) DisplayStatus(now time.Time) string {
	if t.Status != TaskPending {
		return t.Status
	}
	due, err := time.Parse(time.RFC3339, t.DueDate)
	if err != nil {
		return t.Status
	}
	if due.Before(now) {
		return TaskOverdue
	}
	return t.Status
}

// Orphaned reports whether the linked month or indicator no longer resolves.
func (t Task) Orphaned() bool {
	return t.Indicatable == nil
}

type Submission struct {
	ID          string       `json:"id"`
	TaskID      string       `json:"task_id"`
	Value       string       `json:"value"`
	Comment     string       `json:"comment,omitempty"`
	IsAchieved  bool         `json:"is_achieved"`
	Status      string       `json:"status" enum:"pending_verification_1,pending_verification_2,approved,rejected"`
	SubmitterID string       `json:"submitter_id"`
	SubmittedAt string       `json:"submitted_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

const (
	SubmissionPendingVerification1 = "pending_verification_1"
	SubmissionPendingVerification2 = "pending_verification_2"
	SubmissionApproved             = "approved"
	SubmissionRejected             = "rejected"
)

// Terminal reports whether no further review can change the submission.
func (s Submission) Terminal() bool {
	return s.Status == SubmissionApproved || s.Status == SubmissionRejected
}

type Attachment struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	Title        string `json:"title"`
	Path         string `json:"path"`
	Mime         string `json:"mime,omitempty"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type ReviewTask struct {
	ID             string  `json:"id"`
	SubmissionID   string  `json:"submission_id"`
	TaskID         string  `json:"task_id"`
	VerifierUserID *string `json:"verifier_user_id,omitempty"`
	VerifierRoleID string  `json:"verifier_role_id"`
	VerifierLevel  int     `json:"verifier_level" enum:"1,2"`
	DueDate        string  `json:"due_date" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Pending reports whether the review task still awaits a decision.
func (r ReviewTask) Pending() bool {
	return r.CompletedAt == nil
}

// Unassigned reports whether no verifier could be resolved for the review task.
func (r ReviewTask) Unassigned() bool {
	return r.VerifierUserID == nil || *r.VerifierUserID == ""
}

// Overdue reports whether a pending review task is past its due date.
func (r ReviewTask) Overdue(now time.Time) bool {
	if !r.Pending() {
		return false
	}
	due, err := time.Parse(time.RFC3339, r.DueDate)
	if err != nil {
		return false
	}
	return due.Before(now)
}

type SubmissionReview struct {
	ID            string `json:"id"`
	ReviewTaskID  string `json:"review_task_id"`
	SubmissionID  string `json:"submission_id"`
	Approved      bool   `json:"approved"`
	VerifierLevel int    `json:"verifier_level"`
	Comment       string `json:"comment,omitempty"`
	ReviewerID    string `json:"reviewer_id"`
	ReviewedAt    string `json:"reviewed_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type Activity struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Description string `json:"description"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	CauserID    string `json:"causer_id,omitempty"`
	Properties  string `json:"properties_json"`
}
