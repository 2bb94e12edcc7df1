// Package access resolves the effective permission of a principal on a
// document: owner and admin imply manage, otherwise the highest-ranked grant
// among direct shares and shares via group membership wins. Revocation takes
// effect on the next check because nothing is cached.
//
// Denials never leak document existence: a principal with no grant at all
// gets ErrNotFound, not ErrForbidden.
package access

import (
	"fmt"

	"github.com/google/uuid"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// Narrow store views so the resolver can be unit-tested with fakes.
type DocumentStore interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	IDsByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]uuid.UUID, error)
	AllIDs(dbc dbctx.Context) ([]uuid.UUID, error)
}

type ShareStore interface {
	GetForPrincipals(dbc dbctx.Context, documentID uuid.UUID, userID uuid.UUID, groupIDs []uuid.UUID) ([]*types.DocumentShare, error)
	DocumentIDsForPrincipals(dbc dbctx.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error)
}

type GroupStore interface {
	GroupIDsForUser(dbc dbctx.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type Resolver struct {
	log    *logger.Logger
	docs   DocumentStore
	shares ShareStore
	groups GroupStore
}

func NewResolver(baseLog *logger.Logger, docs DocumentStore, shares ShareStore, groups GroupStore) *Resolver {
	return &Resolver{
		log:    baseLog.With("component", "AccessResolver"),
		docs:   docs,
		shares: shares,
		groups: groups,
	}
}

// Effective returns the principal's permission on doc: "manage", "read" or
// "" for no access.
func (r *Resolver) Effective(dbc dbctx.Context, rd ctxutil.RequestData, doc *types.Document) (string, error) {
	if doc == nil {
		return "", nil
	}
	if rd.IsAdmin || doc.OwnerUserID == rd.UserID {
		return types.PermissionManage, nil
	}

	groupIDs, err := r.groups.GroupIDsForUser(dbc, rd.UserID)
	if err != nil {
		return "", err
	}
	shares, err := r.shares.GetForPrincipals(dbc, doc.ID, rd.UserID, groupIDs)
	if err != nil {
		return "", err
	}

	best := ""
	for _, s := range shares {
		if types.PermissionRank(s.Permission) > types.PermissionRank(best) {
			best = s.Permission
		}
	}
	return best, nil
}

// RequireRead loads the document and checks read-or-higher. Missing documents
// and missing grants are indistinguishable to the caller.
func (r *Resolver) RequireRead(dbc dbctx.Context, rd ctxutil.RequestData, documentID uuid.UUID) (*types.Document, error) {
	doc, err := r.docs.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
	}

	perm, err := r.Effective(dbc, rd, doc)
	if err != nil {
		return nil, err
	}
	if types.PermissionRank(perm) < types.PermissionRank(types.PermissionRead) {
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
	}
	return doc, nil
}

// RequireManage loads the document and checks manage. A principal with read
// but not manage gets ErrForbidden; no grant at all stays ErrNotFound.
func (r *Resolver) RequireManage(dbc dbctx.Context, rd ctxutil.RequestData, documentID uuid.UUID) (*types.Document, error) {
	doc, err := r.docs.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
	}

	perm, err := r.Effective(dbc, rd, doc)
	if err != nil {
		return nil, err
	}
	switch {
	case types.PermissionRank(perm) >= types.PermissionRank(types.PermissionManage):
		return doc, nil
	case types.PermissionRank(perm) >= types.PermissionRank(types.PermissionRead):
		return nil, fmt.Errorf("%w: manage permission required on document %s", apperrors.ErrForbidden, documentID)
	default:
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, documentID)
	}
}

// ReadableDocumentIDs is the query scope when no document is named: every
// document the principal owns or holds a share on; everything for admins.
func (r *Resolver) ReadableDocumentIDs(dbc dbctx.Context, rd ctxutil.RequestData) ([]uuid.UUID, error) {
	if rd.IsAdmin {
		return r.docs.AllIDs(dbc)
	}

	owned, err := r.docs.IDsByOwner(dbc, rd.UserID)
	if err != nil {
		return nil, err
	}
	groupIDs, err := r.groups.GroupIDsForUser(dbc, rd.UserID)
	if err != nil {
		return nil, err
	}
	shared, err := r.shares.DocumentIDsForPrincipals(dbc, rd.UserID, groupIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(owned)+len(shared))
	out := make([]uuid.UUID, 0, len(owned)+len(shared))
	for _, id := range owned {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range shared {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}
