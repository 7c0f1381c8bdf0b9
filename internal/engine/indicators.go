package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"indicatorline/internal/engine/resolver"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

// PublishAssociation moves an indicator-programme association from pending to published. It
// reports false when the association was already published; publishing cannot be undone.
func (e Engine) PublishAssociation(ctx context.Context, associationID, actorID string) (bool, error) {
	var b batch
	published := false
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		assoc, err := e.Repo.GetAssociation(ctx, tx, associationID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrMissingIndicatorAssociation, associationID)
			}
			return err
		}
		published, err = e.Repo.PublishAssociation(ctx, tx, assoc.ID, e.nowString())
		if err != nil || !published {
			return err
		}
		return e.record(ctx, tx, &b, events.Event{
			Type:       events.TypeAssociationPublished,
			EntityKind: "indicator_programme",
			EntityID:   assoc.ID,
			ActorID:    actorID,
			Payload:    events.EventPayload{"indicator_id": assoc.IndicatorID, "programme_id": assoc.ProgrammeID},
		}, true)
	})
	if err != nil {
		return false, err
	}
	e.publish(ctx, b)
	return published, nil
}

// SetIndicatorVerifiers changes the verifier roles of an indicator that is not yet published.
// A second level without a first is refused, as is any role without a resolution strategy.
func (e Engine) SetIndicatorVerifiers(ctx context.Context, indicatorID string, level1, level2 *string) error {
	if level2 != nil && *level2 != "" && (level1 == nil || *level1 == "") {
		return fmt.Errorf("%w: level 2 requires a level 1 role", ErrRoleNotFoundForVerificationLevel)
	}
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureMutable(ctx, tx, indicatorID); err != nil {
			return err
		}
		for i, id := range []*string{level1, level2} {
			level := i + 1
			if id == nil || *id == "" {
				continue
			}
			role, err := e.Repo.GetRole(ctx, tx, *id)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("%w: level %d role %s", ErrRoleNotFoundForVerificationLevel, level, *id)
				}
				return err
			}
			if !e.Resolver.Supports(role.Slug) {
				return fmt.Errorf("%w: level %d: %w", ErrRoleNotFoundForVerificationLevel, level,
					resolver.UnmappedDesignationError{RoleID: role.ID, Slug: role.Slug})
			}
		}
		return e.Repo.UpdateIndicatorVerifiers(ctx, tx, indicatorID, level1, level2)
	})
}

// RemoveIndicator soft-deletes an unpublished indicator; its tasks become orphaned.
func (e Engine) RemoveIndicator(ctx context.Context, indicatorID string) error {
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureMutable(ctx, tx, indicatorID); err != nil {
			return err
		}
		return e.Repo.SoftDeleteIndicator(ctx, tx, indicatorID, e.nowString())
	})
}

func (e Engine) ensureMutable(ctx context.Context, q repo.Querier, indicatorID string) error {
	if _, err := e.Repo.GetIndicator(ctx, q, indicatorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrIndicatorNotFound, indicatorID)
		}
		return err
	}
	published, err := e.Repo.IndicatorPublished(ctx, q, indicatorID)
	if err != nil {
		return err
	}
	if published {
		return fmt.Errorf("%w: %s", ErrIndicatorPublished, indicatorID)
	}
	return nil
}
