package server

import (
	"net/http"
	"time"

	"github.com/corpusworks/corpusd/internal/query"
)

// handleQuery handles POST /query/{project}.
// The project path value is a project id or a project name within the key's
// team. The body carries a pre-computed query embedding; corpusd never embeds
// query text itself.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := keyFromContext(ctx)

	project, err := s.auth.ResolveProject(ctx, key, r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body queryRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.Search(ctx, &query.Request{
		ProjectID: project.ID,
		Vector:    body.Embedding,
		TopK:      body.TopK,
		QueryText: body.QueryText,
		APIKeyID:  &key.ID,
	})
	s.metrics.observeQuery(err, time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
