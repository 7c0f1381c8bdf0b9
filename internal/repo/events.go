package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"indicatorline/internal/domain"
)

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListEvents returns the newest events first.
func (r Repo) ListEvents(ctx context.Context, limit int, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	var args []any
	if entityID != "" {
		query += ` WHERE entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) CountEvents(ctx context.Context, q Querier, evtType, entityID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE type=? AND entity_id=?`, evtType, entityID).Scan(&n)
	return n, err
}

func (r Repo) InsertActivity(ctx context.Context, q Querier, a domain.Activity) error {
	if a.Properties == "" {
		a.Properties = "{}"
	}
	_, err := q.ExecContext(ctx, `INSERT INTO activity_log(ts,description,subject_type,subject_id,causer_id,properties_json) VALUES (?,?,?,?,?,?)`,
		a.TS, a.Description, a.SubjectType, a.SubjectID, nullable(a.CauserID), a.Properties)
	return err
}

func (r Repo) ListActivity(ctx context.Context, subjectType, subjectID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,description,subject_type,subject_id,causer_id,properties_json FROM activity_log
WHERE subject_type=? AND subject_id=? ORDER BY id`, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var causer sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.Description, &a.SubjectType, &a.SubjectID, &causer, &a.Properties); err != nil {
			return nil, err
		}
		a.CauserID = causer.String
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActivityProperties decodes an activity's properties payload.
func ActivityProperties(a domain.Activity) (map[string]any, error) {
	props := map[string]any{}
	if a.Properties == "" {
		return props, nil
	}
	err := json.Unmarshal([]byte(a.Properties), &props)
	return props, err
}
