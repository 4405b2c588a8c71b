// Package server — admin.go contains the management-plane handlers for
// teams, projects, and API keys. These routes sit behind the static admin
// token, not per-team keys; they are how keys come to exist at all.
package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/auth"
	"github.com/corpusworks/corpusd/internal/model"
)

// handleTeamCreate handles POST /teams.
func (s *Server) handleTeamCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createTeamRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	team, err := s.store.CreateTeam(ctx, body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, team)
}

// handleTeamList handles GET /teams.
func (s *Server) handleTeamList(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}

	writeJSON(w, http.StatusOK, teamListResponse{Teams: teams})
}

// handleProjectCreate handles POST /teams/{team}/projects.
func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body createProjectRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	project, err := s.store.CreateProject(ctx, team.ID, body.Name, body.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// handleProjectList handles GET /teams/{team}/projects.
func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	projects, err := s.store.ListProjects(ctx, team.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}

	writeJSON(w, http.StatusOK, projectListResponse{Projects: projects})
}

// handleProjectDelete handles DELETE /teams/{team}/projects/{project}.
// The cascade removes the project's documents, chunks, index points, and
// audit rows.
func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	project, err := s.store.ProjectByRef(ctx, team.ID, r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	n, err := s.reporter.DeleteProject(ctx, project.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{ChunksDeleted: n})
}

// handleKeyCreate handles POST /teams/{team}/keys.
// The response carries the raw secret; it is never retrievable again.
func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body createKeyRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	secret, err := auth.NewSecret()
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := s.store.CreateAPIKey(ctx, team.ID, body.Name, auth.HashKey(secret))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:        key.ID,
		TeamID:    key.TeamID,
		Name:      key.Name,
		Key:       secret,
		CreatedAt: key.CreatedAt,
	})
}

// handleKeyList handles GET /teams/{team}/keys. Hashes and secrets are never
// included.
func (s *Server) handleKeyList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	keys, err := s.store.ListAPIKeys(ctx, team.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeJSON(w, http.StatusOK, keyListResponse{Keys: keys})
}

// handleKeyRevoke handles POST /teams/{team}/keys/{id}/revoke.
// Revocation is terminal; revoking an already-revoked key is a client error.
func (s *Server) handleKeyRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	team, err := s.store.TeamByRef(ctx, r.PathValue("team"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid key id")
		return
	}

	if err := s.store.RevokeAPIKey(ctx, team.ID, keyID); err != nil {
		if errors.Is(err, model.ErrConflict) {
			badRequest(w, "key already revoked")
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, revokeResponse{Revoked: true})
}
