// Package resolver finds the user who must verify a submission for a given role.
//
// Resolution dispatches on the role's slug through a registry of strategies, one per
// designation. A strategy that cannot identify exactly one user returns nil; the
// caller then creates the review task unassigned.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

const (
	Mentor               = "mentor"
	ProgrammeManager     = "programme-manager"
	ProgrammeCoordinator = "programme-coordinator"
	RegionalCoordinator  = "regional-coordinator"
	RegionalManager      = "regional-manager"
	ESOManager           = "eso-manager"
)

// ErrRoleNotFound is returned when the role id does not exist.
var ErrRoleNotFound = errors.New("role not found")

// UnmappedDesignationError is returned for a role whose slug has no registered strategy.
type UnmappedDesignationError struct {
	RoleID string
	Slug   string
}

func (e UnmappedDesignationError) Error() string {
	return fmt.Sprintf("role %s has unmapped designation %q", e.RoleID, e.Slug)
}

// Directory is the read side of the organisational graph.
type Directory interface {
	GetRole(ctx context.Context, q repo.Querier, id string) (domain.Role, error)
	GetOrganisation(ctx context.Context, q repo.Querier, id string) (domain.Organisation, error)
	GetTenant(ctx context.Context, q repo.Querier, id string) (domain.Tenant, error)
	EntrepreneurPrimaryTenant(ctx context.Context, q repo.Querier, userID string) (*string, error)
	LatestAssignee(ctx context.Context, q repo.Querier, scopeType, scopeID, roleID string) (domain.User, error)
	GuideUsers(ctx context.Context, q repo.Querier, organisationID, permission string) ([]domain.User, error)
}

// Settings supplies the permission that marks mentors.
type Settings interface {
	GuidePermission() string
}

// Scope is the organisational context of a task.
type Scope struct {
	EntrepreneurID string
	OrganisationID string
	ProgrammeID    string
}

// ScopeOf extracts the resolver scope from a task.
func ScopeOf(t domain.Task) Scope {
	var s Scope
	if t.EntrepreneurID != nil {
		s.EntrepreneurID = *t.EntrepreneurID
	}
	if t.OrganisationID != nil {
		s.OrganisationID = *t.OrganisationID
	}
	if t.ProgrammeID != nil {
		s.ProgrammeID = *t.ProgrammeID
	}
	return s
}

// Lookup is what a strategy gets to work with.
type Lookup struct {
	Q      repo.Querier
	Dir    Directory
	Scope  Scope
	Role   domain.Role
	Guide  string
	Logger *slog.Logger
}

// Strategy resolves a single verifier or returns nil when none can be identified.
type Strategy func(ctx context.Context, l Lookup) (*domain.User, error)

type Resolver struct {
	dir      Directory
	settings Settings
	logger   *slog.Logger

	mu         sync.RWMutex
	strategies map[string]Strategy
}

// New returns a Resolver with the built-in designations registered.
func New(dir Directory, settings Settings, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{dir: dir, settings: settings, logger: logger, strategies: map[string]Strategy{}}
	r.Register(Mentor, resolveMentor)
	r.Register(ProgrammeManager, latestOnProgramme)
	r.Register(ProgrammeCoordinator, latestOnProgramme)
	r.Register(RegionalCoordinator, latestOnDeliveryLocation)
	r.Register(RegionalManager, latestOnDeliveryLocation)
	r.Register(ESOManager, latestOnCluster)
	return r
}

// Register adds or replaces the strategy for a designation.
func (r *Resolver) Register(slug string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[Normalize(slug)] = s
}

// Supports reports whether a designation has a registered strategy.
func (r *Resolver) Supports(slug string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[Normalize(slug)]
	return ok
}

// Designations lists registered slugs in sorted order.
func (r *Resolver) Designations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate fails when any of the given designations has no strategy.
func (r *Resolver) Validate(slugs []string) error {
	var missing []string
	for _, s := range slugs {
		if !r.Supports(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no resolution strategy for designations: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Normalize trims the slug and folds underscores and spaces into hyphens. Case is kept.
func Normalize(slug string) string {
	slug = strings.TrimSpace(slug)
	return strings.NewReplacer("_", "-", " ", "-").Replace(slug)
}

// ResolveVerifier returns the user who should verify work in scope for the role, or nil.
func (r *Resolver) ResolveVerifier(ctx context.Context, q repo.Querier, scope Scope, roleID string) (*domain.User, error) {
	role, err := r.dir.GetRole(ctx, q, roleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
		}
		return nil, err
	}
	slug := Normalize(role.Slug)
	r.mu.RLock()
	strategy, ok := r.strategies[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, UnmappedDesignationError{RoleID: role.ID, Slug: role.Slug}
	}
	guide := ""
	if r.settings != nil {
		guide = r.settings.GuidePermission()
	}
	if guide == "" {
		guide = "guide"
	}
	return strategy(ctx, Lookup{
		Q:      q,
		Dir:    r.dir,
		Scope:  scope,
		Role:   role,
		Guide:  guide,
		Logger: r.logger.With("role", slug, "organisation_id", scope.OrganisationID, "programme_id", scope.ProgrammeID),
	})
}
