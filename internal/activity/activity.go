// Package activity keeps the audit trail of workflow actions in the workspace database.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"indicatorline/internal/domain"
	"indicatorline/internal/engine"
	"indicatorline/internal/repo"
)

type Logger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (l Logger) LogActivity(ctx context.Context, description string, subject engine.Subject, causerID string, properties map[string]any) error {
	if properties == nil {
		properties = map[string]any{}
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return err
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return l.Repo.InsertActivity(ctx, l.Repo.DB, domain.Activity{
		TS:          now().UTC().Format(time.RFC3339),
		Description: description,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		CauserID:    causerID,
		Properties:  string(data),
	})
}

// For returns the trail of one subject, oldest first.
func (l Logger) For(ctx context.Context, subject engine.Subject) ([]domain.Activity, error) {
	return l.Repo.ListActivity(ctx, subject.Type, subject.ID)
}
