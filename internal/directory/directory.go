// Package directory loads the organisational graph, indicators and tasks from a YAML document.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

type Document struct {
	Roles             []Role         `yaml:"roles" validate:"dive"`
	Users             []User         `yaml:"users" validate:"dive"`
	Clusters          []Named        `yaml:"clusters" validate:"dive"`
	Tenants           []Tenant       `yaml:"tenants" validate:"dive"`
	DeliveryLocations []Named        `yaml:"delivery_locations" validate:"dive"`
	Organisations     []Organisation `yaml:"organisations" validate:"dive"`
	Programmes        []Programme    `yaml:"programmes" validate:"dive"`
	Entrepreneurs     []Entrepreneur `yaml:"entrepreneurs" validate:"dive"`
	Assignments       []Assignment   `yaml:"assignments" validate:"dive"`
	Indicators        []Indicator    `yaml:"indicators" validate:"dive"`
	Tasks             []Task         `yaml:"tasks" validate:"dive"`
}

type Named struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

type Role struct {
	ID          string   `yaml:"id" validate:"required"`
	Slug        string   `yaml:"slug" validate:"required"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type User struct {
	ID    string `yaml:"id" validate:"required"`
	Name  string `yaml:"name" validate:"required"`
	Email string `yaml:"email" validate:"omitempty,email"`
}

type Tenant struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name" validate:"required"`
	Cluster string `yaml:"cluster"`
}

type Organisation struct {
	ID               string `yaml:"id" validate:"required"`
	Name             string `yaml:"name" validate:"required"`
	DeliveryLocation string `yaml:"delivery_location"`
	Tenant           string `yaml:"tenant"`
}

type Programme struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name" validate:"required"`
	PeriodMonths int    `yaml:"period_months" validate:"gte=0"`
}

type Entrepreneur struct {
	User          string `yaml:"user" validate:"required"`
	PrimaryTenant string `yaml:"primary_tenant"`
}

type Assignment struct {
	User       string `yaml:"user" validate:"required"`
	Role       string `yaml:"role" validate:"required"`
	ScopeType  string `yaml:"scope_type" validate:"required,oneof=organisation programme delivery_location cluster"`
	ScopeID    string `yaml:"scope_id" validate:"required"`
	AssignedAt string `yaml:"assigned_at"`
}

type Indicator struct {
	ID              string        `yaml:"id" validate:"required"`
	Kind            string        `yaml:"kind" validate:"required,oneof=success compliance"`
	Name            string        `yaml:"name" validate:"required"`
	ResponseFormat  string        `yaml:"response_format" validate:"required,oneof=boolean numeric percentage monetary"`
	AcceptanceValue *string       `yaml:"acceptance_value"`
	Verifier1Role   string        `yaml:"verifier_1_role"`
	Verifier2Role   string        `yaml:"verifier_2_role"`
	ComplianceType  string        `yaml:"compliance_type" validate:"omitempty,oneof=element-progress attendance-learning attendance-mentoring other"`
	Programmes      []Association `yaml:"programmes" validate:"dive"`
}

type Association struct {
	ID        string  `yaml:"id"`
	Programme string  `yaml:"programme" validate:"required"`
	Published bool    `yaml:"published"`
	Months    []Month `yaml:"months" validate:"dive"`
}

type Month struct {
	ID     string  `yaml:"id"`
	Month  int     `yaml:"month" validate:"gte=1"`
	Target *string `yaml:"target"`
}

// Task names its month by indicator, programme and programme month number.
type Task struct {
	ID              string `yaml:"id"`
	Entrepreneur    string `yaml:"entrepreneur"`
	Organisation    string `yaml:"organisation"`
	Programme       string `yaml:"programme" validate:"required"`
	Indicator       string `yaml:"indicator" validate:"required"`
	Month           int    `yaml:"month" validate:"gte=1"`
	DueDate         string `yaml:"due_date" validate:"required"`
	ResponsibleRole string `yaml:"responsible_role"`
	Status          string `yaml:"status" validate:"omitempty,oneof=pending submitted needs_revision completed"`
}

// Stats counts what an import wrote.
type Stats struct {
	Roles       int `json:"roles"`
	Users       int `json:"users"`
	Assignments int `json:"assignments"`
	Indicators  int `json:"indicators"`
	Months      int `json:"months"`
	Tasks       int `json:"tasks"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse directory: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return doc, fmt.Errorf("invalid directory: %w", err)
	}
	for _, ind := range doc.Indicators {
		if ind.Verifier2Role != "" && ind.Verifier1Role == "" {
			return doc, fmt.Errorf("indicator %s: verifier_2_role requires verifier_1_role", ind.ID)
		}
	}
	return doc, nil
}

func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(data)
}

// Importer writes a Document in one transaction. Directory rows are upserted; indicators and tasks are inserted.
type Importer struct {
	Repo repo.Repo
	Now  func() time.Time
	// Supports reports whether a role slug has a verifier resolution strategy.
	Supports func(slug string) bool
}

func (im Importer) Import(ctx context.Context, doc Document) (Stats, error) {
	now := time.Now
	if im.Now != nil {
		now = im.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	var st Stats
	err := im.Repo.InTx(ctx, func(tx *sql.Tx) error {
		r := im.Repo
		slugs := map[string]string{}
		for _, role := range doc.Roles {
			if err := r.InsertRole(ctx, tx, domain.Role{ID: role.ID, Slug: role.Slug, Name: nameOr(role.Name, role.Slug), Permissions: role.Permissions}); err != nil {
				return fmt.Errorf("role %s: %w", role.ID, err)
			}
			slugs[role.ID] = role.Slug
			st.Roles++
		}
		for _, u := range doc.Users {
			if err := r.InsertUser(ctx, tx, domain.User{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: ts}); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
			st.Users++
		}
		for _, c := range doc.Clusters {
			if err := r.InsertCluster(ctx, tx, c.ID, c.Name); err != nil {
				return fmt.Errorf("cluster %s: %w", c.ID, err)
			}
		}
		for _, t := range doc.Tenants {
			if err := r.InsertTenant(ctx, tx, domain.Tenant{ID: t.ID, Name: t.Name, ClusterID: optional(t.Cluster)}); err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}
		}
		for _, l := range doc.DeliveryLocations {
			if err := r.InsertDeliveryLocation(ctx, tx, l.ID, l.Name); err != nil {
				return fmt.Errorf("delivery location %s: %w", l.ID, err)
			}
		}
		for _, o := range doc.Organisations {
			if err := r.InsertOrganisation(ctx, tx, domain.Organisation{ID: o.ID, Name: o.Name,
				DeliveryLocationID: optional(o.DeliveryLocation), TenantID: optional(o.Tenant)}); err != nil {
				return fmt.Errorf("organisation %s: %w", o.ID, err)
			}
		}
		for _, p := range doc.Programmes {
			period := p.PeriodMonths
			if period == 0 {
				period = 12
			}
			if err := r.InsertProgramme(ctx, tx, domain.Programme{ID: p.ID, Name: p.Name, PeriodMonths: period}); err != nil {
				return fmt.Errorf("programme %s: %w", p.ID, err)
			}
		}
		for _, e := range doc.Entrepreneurs {
			if err := r.UpsertEntrepreneur(ctx, tx, e.User, optional(e.PrimaryTenant)); err != nil {
				return fmt.Errorf("entrepreneur %s: %w", e.User, err)
			}
		}
		for _, a := range doc.Assignments {
			at := a.AssignedAt
			if at == "" {
				at = ts
			}
			if err := r.Assign(ctx, tx, domain.Assignment{UserID: a.User, RoleID: a.Role, ScopeType: a.ScopeType, ScopeID: a.ScopeID, AssignedAt: at}); err != nil {
				return fmt.Errorf("assignment %s/%s: %w", a.User, a.Role, err)
			}
			st.Assignments++
		}

		type monthKey struct {
			indicator, programme string
			month                int
		}
		months := map[monthKey]string{}
		kinds := map[string]string{}
		for _, ind := range doc.Indicators {
			for _, roleID := range []string{ind.Verifier1Role, ind.Verifier2Role} {
				if roleID == "" || im.Supports == nil {
					continue
				}
				slug, ok := slugs[roleID]
				if !ok {
					role, err := r.GetRole(ctx, tx, roleID)
					if err != nil {
						return fmt.Errorf("indicator %s: verifier role %s: %w", ind.ID, roleID, err)
					}
					slug = role.Slug
				}
				if !im.Supports(slug) {
					return fmt.Errorf("indicator %s: role %s has no verifier resolution for %q", ind.ID, roleID, slug)
				}
			}
			if err := r.InsertIndicator(ctx, tx, domain.Indicator{
				ID: ind.ID, Kind: ind.Kind, Name: ind.Name, ResponseFormat: ind.ResponseFormat,
				AcceptanceValue: ind.AcceptanceValue, Verifier1RoleID: optional(ind.Verifier1Role), Verifier2RoleID: optional(ind.Verifier2Role),
				ComplianceType: ind.ComplianceType, CreatedAt: ts,
			}); err != nil {
				return fmt.Errorf("indicator %s: %w", ind.ID, err)
			}
			kinds[ind.ID] = ind.Kind
			st.Indicators++
			for _, assoc := range ind.Programmes {
				status := domain.AssociationPending
				var publishedAt *string
				if assoc.Published {
					status = domain.AssociationPublished
					publishedAt = &ts
				}
				a := domain.IndicatorProgramme{ID: idOr(assoc.ID), IndicatorID: ind.ID, ProgrammeID: assoc.Programme, Status: status, PublishedAt: publishedAt}
				if err := r.InsertAssociation(ctx, tx, a); err != nil {
					return fmt.Errorf("indicator %s programme %s: %w", ind.ID, assoc.Programme, err)
				}
				for _, m := range assoc.Months {
					row := domain.IndicatorMonth{ID: idOr(m.ID), AssociationID: a.ID, ProgrammeMonth: m.Month, TargetValue: m.Target}
					if err := r.InsertMonth(ctx, tx, row); err != nil {
						return fmt.Errorf("indicator %s month %d: %w", ind.ID, m.Month, err)
					}
					months[monthKey{ind.ID, assoc.Programme, m.Month}] = row.ID
					st.Months++
				}
			}
		}

		for _, t := range doc.Tasks {
			monthID, ok := months[monthKey{t.Indicator, t.Programme, t.Month}]
			if !ok {
				return fmt.Errorf("task %s: indicator %s has no month %d in programme %s", t.ID, t.Indicator, t.Month, t.Programme)
			}
			status := t.Status
			if status == "" {
				status = domain.TaskPending
			}
			kind := kinds[t.Indicator]
			task := domain.Task{
				ID: idOr(t.ID), EntrepreneurID: optional(t.Entrepreneur), OrganisationID: optional(t.Organisation), ProgrammeID: optional(t.Programme),
				MonthType: domain.MonthKindFor(kind), MonthID: monthID, IndicatorType: kind, IndicatorID: t.Indicator,
				ResponsibleType: domain.ResponsibleUser, ResponsibleRoleID: optional(t.ResponsibleRole), ResponsibleUserID: optional(t.Entrepreneur),
				DueDate: t.DueDate, Status: status, CreatedAt: ts, UpdatedAt: ts,
			}
			if t.Entrepreneur == "" {
				task.ResponsibleType = domain.ResponsibleSystem
			}
			if err := r.InsertTask(ctx, tx, task); err != nil {
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
			st.Tasks++
		}
		return nil
	})
	return st, err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func idOr(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
