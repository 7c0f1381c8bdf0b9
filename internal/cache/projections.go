// Package cache holds read projections over tasks, keyed by entrepreneur, organisation and programme.
package cache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

// Summary counts an entrepreneur's tasks in one organisation and programme by stored status.
type Summary struct {
	EntrepreneurID string         `json:"entrepreneur_id"`
	OrganisationID string         `json:"organisation_id"`
	ProgrammeID    string         `json:"programme_id"`
	Counts         map[string]int `json:"counts"`
}

func (s Summary) Completed() int { return s.Counts[domain.TaskCompleted] }

func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Projections caches summaries until Invalidate is called for their key. Concurrent misses for
// the same key share one load.
type Projections struct {
	Repo   repo.Repo
	Logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	items map[string]Summary
	// generation is bumped on every invalidation so a load racing an invalidation is not stored.
	generation map[string]uint64
}

func NewProjections(r repo.Repo, logger *slog.Logger) *Projections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projections{Repo: r, Logger: logger, items: map[string]Summary{}, generation: map[string]uint64{}}
}

func key(ent, org, prog string) string {
	return ent + "\x00" + org + "\x00" + prog
}

func (p *Projections) Summary(ctx context.Context, entrepreneurID, organisationID, programmeID string) (Summary, error) {
	k := key(entrepreneurID, organisationID, programmeID)
	p.mu.RLock()
	s, ok := p.items[k]
	gen := p.generation[k]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}
	v, err, shared := p.group.Do(k, func() (any, error) {
		counts, err := p.Repo.TaskStatusCounts(ctx, p.Repo.DB, entrepreneurID, organisationID, programmeID)
		if err != nil {
			return Summary{}, err
		}
		s := Summary{EntrepreneurID: entrepreneurID, OrganisationID: organisationID, ProgrammeID: programmeID, Counts: counts}
		p.mu.Lock()
		if p.generation[k] == gen {
			p.items[k] = s
		}
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return Summary{}, err
	}
	if shared {
		p.Logger.Debug("projection load shared", "entrepreneur_id", entrepreneurID, "programme_id", programmeID)
	}
	return v.(Summary), nil
}

func (p *Projections) Invalidate(entrepreneurID, organisationID, programmeID string) {
	k := key(entrepreneurID, organisationID, programmeID)
	p.mu.Lock()
	delete(p.items, k)
	p.generation[k]++
	p.mu.Unlock()
	p.group.Forget(k)
}

// Len reports how many summaries are cached.
func (p *Projections) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
