package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
)

// CreateTeam inserts a new team. Team names are globally unique.
func (s *Store) CreateTeam(ctx context.Context, name string) (*model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("store: team name is required: %w", model.ErrValidation)
	}
	t := &model.Team{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	const q = `INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, t.ID.String(), t.Name, t.CreatedAt.Unix()); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("store: team %q already exists: %w", name, model.ErrConflict)
		}
		return nil, fmt.Errorf("store: create team: %w", err)
	}
	return t, nil
}

// TeamByID returns the team with the given id.
func (s *Store) TeamByID(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	const q = `SELECT id, name, created_at FROM teams WHERE id = ?`
	return s.scanTeam(s.db.QueryRowContext(ctx, q, id.String()))
}

// TeamByName returns the team with the given name.
func (s *Store) TeamByName(ctx context.Context, name string) (*model.Team, error) {
	const q = `SELECT id, name, created_at FROM teams WHERE name = ?`
	return s.scanTeam(s.db.QueryRowContext(ctx, q, name))
}

// TeamByRef resolves a path reference that may be either a team id or a
// team name.
func (s *Store) TeamByRef(ctx context.Context, ref string) (*model.Team, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.TeamByID(ctx, id)
	}
	return s.TeamByName(ctx, ref)
}

// ListTeams returns all teams ordered by creation time.
func (s *Store) ListTeams(ctx context.Context) ([]model.Team, error) {
	const q = `SELECT id, name, created_at FROM teams ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var (
			t  model.Team
			id string
			ts int64
		)
		if err := rows.Scan(&id, &t.Name, &ts); err != nil {
			return nil, fmt.Errorf("store: list teams scan: %w", err)
		}
		t.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("store: list teams id: %w", err)
		}
		t.CreatedAt = time.Unix(ts, 0)
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list teams rows: %w", err)
	}
	return teams, nil
}

func (s *Store) scanTeam(row *sql.Row) (*model.Team, error) {
	var (
		t  model.Team
		id string
		ts int64
	)
	if err := row.Scan(&id, &t.Name, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: team: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("store: team scan: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("store: team id: %w", err)
	}
	t.ID = parsed
	t.CreatedAt = time.Unix(ts, 0)
	return &t, nil
}

// CreateProject inserts a new project under a team. Project names are unique
// within their team.
func (s *Store) CreateProject(ctx context.Context, teamID uuid.UUID, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("store: project name is required: %w", model.ErrValidation)
	}
	if _, err := s.TeamByID(ctx, teamID); err != nil {
		return nil, err
	}
	p := &model.Project{
		ID:          uuid.New(),
		TeamID:      teamID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	const q = `INSERT INTO projects (id, team_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, p.ID.String(), p.TeamID.String(), p.Name, p.Description, p.CreatedAt.Unix()); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("store: project %q already exists in team: %w", name, model.ErrConflict)
		}
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	return p, nil
}

// ProjectByID returns the project with the given id.
func (s *Store) ProjectByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	const q = `SELECT id, team_id, name, description, created_at FROM projects WHERE id = ?`
	return s.scanProject(s.db.QueryRowContext(ctx, q, id.String()))
}

// ProjectByRef resolves a path reference that may be either a project id or
// a project name scoped to the given team.
func (s *Store) ProjectByRef(ctx context.Context, teamID uuid.UUID, ref string) (*model.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		p, err := s.ProjectByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.TeamID != teamID {
			// The id exists but under another team; report absence within
			// this team rather than leaking cross-tenant existence.
			return nil, fmt.Errorf("store: project: %w", model.ErrNotFound)
		}
		return p, nil
	}
	const q = `SELECT id, team_id, name, description, created_at FROM projects WHERE team_id = ? AND name = ?`
	return s.scanProject(s.db.QueryRowContext(ctx, q, teamID.String(), ref))
}

// ListProjects returns a team's projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context, teamID uuid.UUID) ([]model.Project, error) {
	const q = `SELECT id, team_id, name, description, created_at FROM projects WHERE team_id = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, q, teamID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list projects rows: %w", err)
	}
	return projects, nil
}

func (s *Store) scanProject(row *sql.Row) (*model.Project, error) {
	var (
		p      model.Project
		id, tid string
		ts     int64
	)
	if err := row.Scan(&id, &tid, &p.Name, &p.Description, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: project: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("store: project scan: %w", err)
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: project id: %w", err)
	}
	if p.TeamID, err = uuid.Parse(tid); err != nil {
		return nil, fmt.Errorf("store: project team id: %w", err)
	}
	p.CreatedAt = time.Unix(ts, 0)
	return &p, nil
}

func scanProjectRow(rows *sql.Rows) (*model.Project, error) {
	var (
		p       model.Project
		id, tid string
		ts      int64
	)
	if err := rows.Scan(&id, &tid, &p.Name, &p.Description, &ts); err != nil {
		return nil, fmt.Errorf("store: project scan: %w", err)
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: project id: %w", err)
	}
	if p.TeamID, err = uuid.Parse(tid); err != nil {
		return nil, fmt.Errorf("store: project team id: %w", err)
	}
	p.CreatedAt = time.Unix(ts, 0)
	return &p, nil
}

// CreateAPIKey inserts a new key for a team. Only the sha256 hash of the
// secret is stored; callers hold the raw secret.
func (s *Store) CreateAPIKey(ctx context.Context, teamID uuid.UUID, name, keyHash string) (*model.APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("store: key name is required: %w", model.ErrValidation)
	}
	if keyHash == "" {
		return nil, fmt.Errorf("store: key hash is required: %w", model.ErrValidation)
	}
	if _, err := s.TeamByID(ctx, teamID); err != nil {
		return nil, err
	}
	k := &model.APIKey{
		ID:        uuid.New(),
		TeamID:    teamID,
		Name:      name,
		KeyHash:   keyHash,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	const q = `INSERT INTO api_keys (id, team_id, name, key_hash, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`
	if _, err := s.db.ExecContext(ctx, q, k.ID.String(), k.TeamID.String(), k.Name, k.KeyHash, k.CreatedAt.Unix()); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("store: key hash collision: %w", model.ErrConflict)
		}
		return nil, fmt.Errorf("store: create api key: %w", err)
	}
	return k, nil
}

// APIKeyByHash returns the key with the given hash regardless of its active
// flag; authentication decides what an inactive key means.
func (s *Store) APIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	const q = `SELECT id, team_id, name, key_hash, active, created_at FROM api_keys WHERE key_hash = ?`
	return s.scanAPIKey(s.db.QueryRowContext(ctx, q, keyHash))
}

// APIKeyByID returns the key with the given id scoped to a team.
func (s *Store) APIKeyByID(ctx context.Context, teamID, keyID uuid.UUID) (*model.APIKey, error) {
	const q = `SELECT id, team_id, name, key_hash, active, created_at FROM api_keys WHERE id = ? AND team_id = ?`
	return s.scanAPIKey(s.db.QueryRowContext(ctx, q, keyID.String(), teamID.String()))
}

// ListAPIKeys returns a team's keys ordered by creation time. Hashes are
// included in the returned structs but never serialized to JSON.
func (s *Store) ListAPIKeys(ctx context.Context, teamID uuid.UUID) ([]model.APIKey, error) {
	const q = `SELECT id, team_id, name, key_hash, active, created_at FROM api_keys WHERE team_id = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, q, teamID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var (
			k       model.APIKey
			id, tid string
			active  int
			ts      int64
		)
		if err := rows.Scan(&id, &tid, &k.Name, &k.KeyHash, &active, &ts); err != nil {
			return nil, fmt.Errorf("store: list api keys scan: %w", err)
		}
		if k.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: api key id: %w", err)
		}
		if k.TeamID, err = uuid.Parse(tid); err != nil {
			return nil, fmt.Errorf("store: api key team id: %w", err)
		}
		k.Active = active == 1
		k.CreatedAt = time.Unix(ts, 0)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list api keys rows: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey permanently deactivates a key. Revocation is terminal:
// revoking an already-revoked key is a conflict, and there is no way to
// reactivate one.
func (s *Store) RevokeAPIKey(ctx context.Context, teamID, keyID uuid.UUID) error {
	k, err := s.APIKeyByID(ctx, teamID, keyID)
	if err != nil {
		return err
	}
	if !k.Active {
		return fmt.Errorf("store: key %s already revoked: %w", keyID, model.ErrConflict)
	}
	const q = `UPDATE api_keys SET active = 0 WHERE id = ? AND team_id = ?`
	if _, err := s.db.ExecContext(ctx, q, keyID.String(), teamID.String()); err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	return nil
}

func (s *Store) scanAPIKey(row *sql.Row) (*model.APIKey, error) {
	var (
		k       model.APIKey
		id, tid string
		active  int
		ts      int64
	)
	if err := row.Scan(&id, &tid, &k.Name, &k.KeyHash, &active, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: api key: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("store: api key scan: %w", err)
	}
	var err error
	if k.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: api key id: %w", err)
	}
	if k.TeamID, err = uuid.Parse(tid); err != nil {
		return nil, fmt.Errorf("store: api key team id: %w", err)
	}
	k.Active = active == 1
	k.CreatedAt = time.Unix(ts, 0)
	return &k, nil
}

// DeleteProject removes a project and everything under it: chunks, jobs,
// documents, then the project row, all in one transaction. It returns the
// number of chunks removed. Query logs are audit data and survive.
func (s *Store) DeleteProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var chunks int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id := projectID.String()
		row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`, id)
		if err := row.Scan(&chunks); err != nil {
			return fmt.Errorf("store: delete project count: %w", err)
		}
		steps := []string{
			`DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`,
			`DELETE FROM ingestion_jobs WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`,
			`DELETE FROM documents WHERE project_id = ?`,
		}
		for _, q := range steps {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("store: delete project cascade: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete project: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: delete project rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("store: project: %w", model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return chunks, nil
}

// DeleteTeam removes a team and everything under it, returning the number
// of chunks removed across all of its projects.
func (s *Store) DeleteTeam(ctx context.Context, teamID uuid.UUID) (int64, error) {
	var chunks int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id := teamID.String()
		row := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM chunks WHERE document_id IN (
    SELECT d.id FROM documents d
    JOIN projects p ON p.id = d.project_id
    WHERE p.team_id = ?)`, id)
		if err := row.Scan(&chunks); err != nil {
			return fmt.Errorf("store: delete team count: %w", err)
		}
		steps := []string{
			`DELETE FROM chunks WHERE document_id IN (
                SELECT d.id FROM documents d JOIN projects p ON p.id = d.project_id WHERE p.team_id = ?)`,
			`DELETE FROM ingestion_jobs WHERE document_id IN (
                SELECT d.id FROM documents d JOIN projects p ON p.id = d.project_id WHERE p.team_id = ?)`,
			`DELETE FROM documents WHERE project_id IN (SELECT id FROM projects WHERE team_id = ?)`,
			`DELETE FROM projects WHERE team_id = ?`,
			`DELETE FROM api_keys WHERE team_id = ?`,
		}
		for _, q := range steps {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("store: delete team cascade: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete team: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: delete team rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("store: team: %w", model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return chunks, nil
}
