package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type fakeDocs struct {
	docs map[uuid.UUID]*types.Document
}

func (f *fakeDocs) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	return f.docs[id], nil
}

func (f *fakeDocs) IDsByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, d := range f.docs {
		if d.OwnerUserID == ownerUserID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeDocs) AllIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range f.docs {
		out = append(out, id)
	}
	return out, nil
}

type fakeShares struct {
	shares []*types.DocumentShare
}

func (f *fakeShares) GetForPrincipals(dbc dbctx.Context, documentID uuid.UUID, userID uuid.UUID, groupIDs []uuid.UUID) ([]*types.DocumentShare, error) {
	groupSet := map[uuid.UUID]struct{}{}
	for _, g := range groupIDs {
		groupSet[g] = struct{}{}
	}
	var out []*types.DocumentShare
	for _, s := range f.shares {
		if s.DocumentID != documentID {
			continue
		}
		if s.PrincipalType == types.PrincipalUser && s.PrincipalID == userID {
			out = append(out, s)
		}
		if s.PrincipalType == types.PrincipalGroup {
			if _, ok := groupSet[s.PrincipalID]; ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeShares) DocumentIDsForPrincipals(dbc dbctx.Context, userID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	groupSet := map[uuid.UUID]struct{}{}
	for _, g := range groupIDs {
		groupSet[g] = struct{}{}
	}
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, s := range f.shares {
		match := s.PrincipalType == types.PrincipalUser && s.PrincipalID == userID
		if s.PrincipalType == types.PrincipalGroup {
			_, match = groupSet[s.PrincipalID]
		}
		if !match {
			continue
		}
		if _, dup := seen[s.DocumentID]; !dup {
			seen[s.DocumentID] = struct{}{}
			out = append(out, s.DocumentID)
		}
	}
	return out, nil
}

type fakeGroups struct {
	byUser map[uuid.UUID][]uuid.UUID
}

func (f *fakeGroups) GroupIDsForUser(dbc dbctx.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return f.byUser[userID], nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestEffectivePermission(t *testing.T) {
	owner := uuid.New()
	admin := uuid.New()
	reader := uuid.New()
	manager := uuid.New()
	groupUser := uuid.New()
	outsider := uuid.New()
	groupID := uuid.New()

	doc := &types.Document{ID: uuid.New(), OwnerUserID: owner}

	docs := &fakeDocs{docs: map[uuid.UUID]*types.Document{doc.ID: doc}}
	shares := &fakeShares{shares: []*types.DocumentShare{
		{DocumentID: doc.ID, PrincipalType: types.PrincipalUser, PrincipalID: reader, Permission: types.PermissionRead},
		{DocumentID: doc.ID, PrincipalType: types.PrincipalUser, PrincipalID: manager, Permission: types.PermissionManage},
		{DocumentID: doc.ID, PrincipalType: types.PrincipalGroup, PrincipalID: groupID, Permission: types.PermissionRead},
	}}
	groups := &fakeGroups{byUser: map[uuid.UUID][]uuid.UUID{
		groupUser: {groupID},
	}}

	r := NewResolver(testLogger(t), docs, shares, groups)
	dbc := dbctx.Context{Ctx: context.Background()}

	cases := []struct {
		name string
		rd   ctxutil.RequestData
		want string
	}{
		{"owner has manage", ctxutil.RequestData{UserID: owner}, types.PermissionManage},
		{"admin has manage", ctxutil.RequestData{UserID: admin, IsAdmin: true}, types.PermissionManage},
		{"direct read share", ctxutil.RequestData{UserID: reader}, types.PermissionRead},
		{"direct manage share", ctxutil.RequestData{UserID: manager}, types.PermissionManage},
		{"share via group", ctxutil.RequestData{UserID: groupUser}, types.PermissionRead},
		{"no grant", ctxutil.RequestData{UserID: outsider}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Effective(dbc, tc.rd, doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequireReadDoesNotLeakExistence(t *testing.T) {
	owner := uuid.New()
	outsider := uuid.New()
	doc := &types.Document{ID: uuid.New(), OwnerUserID: owner}

	r := NewResolver(testLogger(t),
		&fakeDocs{docs: map[uuid.UUID]*types.Document{doc.ID: doc}},
		&fakeShares{},
		&fakeGroups{},
	)
	dbc := dbctx.Context{Ctx: context.Background()}

	_, errMissing := r.RequireRead(dbc, ctxutil.RequestData{UserID: outsider}, uuid.New())
	_, errNoGrant := r.RequireRead(dbc, ctxutil.RequestData{UserID: outsider}, doc.ID)

	assert.True(t, errors.Is(errMissing, apperrors.ErrNotFound))
	assert.True(t, errors.Is(errNoGrant, apperrors.ErrNotFound))
}

func TestRequireManage(t *testing.T) {
	owner := uuid.New()
	reader := uuid.New()
	doc := &types.Document{ID: uuid.New(), OwnerUserID: owner}

	r := NewResolver(testLogger(t),
		&fakeDocs{docs: map[uuid.UUID]*types.Document{doc.ID: doc}},
		&fakeShares{shares: []*types.DocumentShare{
			{DocumentID: doc.ID, PrincipalType: types.PrincipalUser, PrincipalID: reader, Permission: types.PermissionRead},
		}},
		&fakeGroups{},
	)
	dbc := dbctx.Context{Ctx: context.Background()}

	got, err := r.RequireManage(dbc, ctxutil.RequestData{UserID: owner}, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = r.RequireManage(dbc, ctxutil.RequestData{UserID: reader}, doc.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = r.RequireManage(dbc, ctxutil.RequestData{UserID: uuid.New()}, doc.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestReadableDocumentIDs(t *testing.T) {
	owner := uuid.New()
	member := uuid.New()
	groupID := uuid.New()

	owned := &types.Document{ID: uuid.New(), OwnerUserID: owner}
	sharedDirect := &types.Document{ID: uuid.New(), OwnerUserID: uuid.New()}
	sharedViaGroup := &types.Document{ID: uuid.New(), OwnerUserID: uuid.New()}
	unrelated := &types.Document{ID: uuid.New(), OwnerUserID: uuid.New()}

	docs := &fakeDocs{docs: map[uuid.UUID]*types.Document{
		owned.ID:          owned,
		sharedDirect.ID:   sharedDirect,
		sharedViaGroup.ID: sharedViaGroup,
		unrelated.ID:      unrelated,
	}}
	shares := &fakeShares{shares: []*types.DocumentShare{
		{DocumentID: sharedDirect.ID, PrincipalType: types.PrincipalUser, PrincipalID: owner, Permission: types.PermissionRead},
		{DocumentID: sharedViaGroup.ID, PrincipalType: types.PrincipalGroup, PrincipalID: groupID, Permission: types.PermissionRead},
	}}
	groups := &fakeGroups{byUser: map[uuid.UUID][]uuid.UUID{member: {groupID}}}

	r := NewResolver(testLogger(t), docs, shares, groups)
	dbc := dbctx.Context{Ctx: context.Background()}

	ids, err := r.ReadableDocumentIDs(dbc, ctxutil.RequestData{UserID: owner})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{owned.ID, sharedDirect.ID}, ids)

	ids, err = r.ReadableDocumentIDs(dbc, ctxutil.RequestData{UserID: member})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{sharedViaGroup.ID}, ids)

	ids, err = r.ReadableDocumentIDs(dbc, ctxutil.RequestData{UserID: uuid.New(), IsAdmin: true})
	require.NoError(t, err)
	assert.Len(t, ids, 4)
}
