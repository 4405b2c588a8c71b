// Package auth implements API key credentials and tenant authorization.
//
// Keys are random secrets handed out once at creation; only their SHA-256
// hash is stored. Authorization walks the ownership graph (document →
// project → team) and fails closed: a key can touch nothing outside its own
// team.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/store"
)

// SecretPrefix marks raw API key secrets so they are recognizable in
// configuration and never mistaken for hashes.
const SecretPrefix = "ck_"

// NewSecret returns a fresh raw API key secret. The caller must hand it to
// the user immediately; it cannot be recovered later.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate secret: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the hex-encoded SHA-256 of a raw secret. This is the only
// form of a key the store ever sees.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authorizer answers authentication and ownership questions against the
// relational store. Safe for concurrent use.
type Authorizer struct {
	store *store.Store
}

// NewAuthorizer returns an Authorizer bound to st.
func NewAuthorizer(st *store.Store) *Authorizer {
	return &Authorizer{store: st}
}

// Authenticate resolves a raw secret to its API key. Unknown and revoked
// secrets are both ErrUnauthenticated; the caller cannot tell them apart.
func (a *Authorizer) Authenticate(ctx context.Context, secret string) (*model.APIKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: missing credentials: %w", model.ErrUnauthenticated)
	}
	key, err := a.store.APIKeyByHash(ctx, HashKey(secret))
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("auth: unknown key: %w", model.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, fmt.Errorf("auth: key revoked: %w", model.ErrUnauthenticated)
	}
	return key, nil
}

// AuthorizeProject resolves a team and project referenced by id or name and
// verifies the key's team owns them. A real team that is not the key's own
// is ErrForbidden regardless of whether the project exists.
func (a *Authorizer) AuthorizeProject(ctx context.Context, key *model.APIKey, teamRef, projectRef string) (*model.Project, error) {
	team, err := a.store.TeamByRef(ctx, teamRef)
	if err != nil {
		return nil, err
	}
	if team.ID != key.TeamID {
		return nil, fmt.Errorf("auth: key not valid for team %q: %w", team.Name, model.ErrForbidden)
	}
	return a.store.ProjectByRef(ctx, team.ID, projectRef)
}

// ResolveProject authorizes access to a project referenced without a team
// segment. Names resolve within the key's own team; ids may name any
// project but are denied unless the key's team owns it.
func (a *Authorizer) ResolveProject(ctx context.Context, key *model.APIKey, ref string) (*model.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		project, err := a.store.ProjectByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if project.TeamID != key.TeamID {
			return nil, fmt.Errorf("auth: project belongs to another team: %w", model.ErrForbidden)
		}
		return project, nil
	}
	return a.store.ProjectByRef(ctx, key.TeamID, ref)
}

// AuthorizeDocument walks a document up to its owning team and verifies the
// key's team matches.
func (a *Authorizer) AuthorizeDocument(ctx context.Context, key *model.APIKey, docID uuid.UUID) (*model.Document, error) {
	doc, err := a.store.DocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	project, err := a.store.ProjectByID(ctx, doc.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.TeamID != key.TeamID {
		return nil, fmt.Errorf("auth: document belongs to another team: %w", model.ErrForbidden)
	}
	return doc, nil
}
