package resolver

import (
	"context"
	"errors"

	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

// resolveMentor picks the organisation's only guide. Zero or several guides resolve to nobody:
// unlike the other designations there is no tie-break.
func resolveMentor(ctx context.Context, l Lookup) (*domain.User, error) {
	if l.Scope.OrganisationID == "" {
		l.Logger.Debug("no organisation on task; mentor unresolved")
		return nil, nil
	}
	guides, err := l.Dir.GuideUsers(ctx, l.Q, l.Scope.OrganisationID, l.Guide)
	if err != nil {
		return nil, err
	}
	switch len(guides) {
	case 1:
		return &guides[0], nil
	case 0:
		l.Logger.Warn("organisation has no mentor")
		return nil, nil
	default:
		ids := make([]string, 0, len(guides))
		for _, g := range guides {
			ids = append(ids, g.ID)
		}
		l.Logger.Warn("organisation has several mentors; cannot pick one", "candidates", ids)
		return nil, nil
	}
}

func latestOnProgramme(ctx context.Context, l Lookup) (*domain.User, error) {
	if l.Scope.ProgrammeID == "" {
		l.Logger.Debug("no programme on task")
		return nil, nil
	}
	return latest(ctx, l, domain.ScopeProgramme, l.Scope.ProgrammeID)
}

func latestOnDeliveryLocation(ctx context.Context, l Lookup) (*domain.User, error) {
	if l.Scope.OrganisationID == "" {
		l.Logger.Debug("no organisation on task")
		return nil, nil
	}
	org, err := l.Dir.GetOrganisation(ctx, l.Q, l.Scope.OrganisationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Logger.Warn("organisation not found")
			return nil, nil
		}
		return nil, err
	}
	if org.DeliveryLocationID == nil {
		l.Logger.Warn("organisation has no delivery location")
		return nil, nil
	}
	return latest(ctx, l, domain.ScopeDeliveryLocation, *org.DeliveryLocationID)
}

// latestOnCluster walks organisation tenant (or the entrepreneur's primary tenant) to its cluster.
func latestOnCluster(ctx context.Context, l Lookup) (*domain.User, error) {
	tenantID, err := tenantFor(ctx, l)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		l.Logger.Warn("no tenant for organisation or entrepreneur")
		return nil, nil
	}
	tenant, err := l.Dir.GetTenant(ctx, l.Q, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Logger.Warn("tenant not found", "tenant_id", tenantID)
			return nil, nil
		}
		return nil, err
	}
	if tenant.ClusterID == nil {
		l.Logger.Warn("tenant has no cluster", "tenant_id", tenantID)
		return nil, nil
	}
	return latest(ctx, l, domain.ScopeCluster, *tenant.ClusterID)
}

func tenantFor(ctx context.Context, l Lookup) (string, error) {
	if l.Scope.OrganisationID != "" {
		org, err := l.Dir.GetOrganisation(ctx, l.Q, l.Scope.OrganisationID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if err == nil && org.TenantID != nil {
			return *org.TenantID, nil
		}
	}
	if l.Scope.EntrepreneurID == "" {
		return "", nil
	}
	tenant, err := l.Dir.EntrepreneurPrimaryTenant(ctx, l.Q, l.Scope.EntrepreneurID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if tenant == nil {
		return "", nil
	}
	return *tenant, nil
}

func latest(ctx context.Context, l Lookup, scopeType, scopeID string) (*domain.User, error) {
	u, err := l.Dir.LatestAssignee(ctx, l.Q, scopeType, scopeID, l.Role.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Logger.Debug("no user assigned", "scope_type", scopeType, "scope_id", scopeID)
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
