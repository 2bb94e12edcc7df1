package users_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/graphrag-backend/internal/data/repos/testutil"
	"github.com/docmesh/graphrag-backend/internal/data/repos/users"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
)

func TestShareRepoUpsertAndPrincipals(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	shares := users.NewShareRepo(db, log)
	groups := users.NewGroupRepo(db, log)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	docID := uuid.New()
	userID := uuid.New()

	group := &types.Group{ID: uuid.New(), Name: "analysts-" + uuid.NewString()}
	_, err := groups.Create(dbc, []*types.Group{group})
	require.NoError(t, err)
	require.NoError(t, groups.AddMember(dbc, group.ID, userID))

	// Direct read grant plus manage via the group.
	_, err = shares.Upsert(dbc, &types.DocumentShare{
		ID: uuid.New(), DocumentID: docID,
		PrincipalType: types.PrincipalUser, PrincipalID: userID,
		Permission: types.PermissionRead,
	})
	require.NoError(t, err)
	_, err = shares.Upsert(dbc, &types.DocumentShare{
		ID: uuid.New(), DocumentID: docID,
		PrincipalType: types.PrincipalGroup, PrincipalID: group.ID,
		Permission: types.PermissionManage,
	})
	require.NoError(t, err)

	groupIDs, err := groups.GroupIDsForUser(dbc, userID)
	require.NoError(t, err)
	require.Contains(t, groupIDs, group.ID)

	found, err := shares.GetForPrincipals(dbc, docID, userID, groupIDs)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	docIDs, err := shares.DocumentIDsForPrincipals(dbc, userID, groupIDs)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{docID}, docIDs)

	// Upsert with the same principal updates in place instead of duplicating.
	_, err = shares.Upsert(dbc, &types.DocumentShare{
		ID: uuid.New(), DocumentID: docID,
		PrincipalType: types.PrincipalUser, PrincipalID: userID,
		Permission: types.PermissionManage,
	})
	require.NoError(t, err)

	listed, err := shares.ListByDocument(dbc, docID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	// Revocation removes only the named principal.
	require.NoError(t, shares.Delete(dbc, docID, types.PrincipalUser, userID))
	listed, err = shares.ListByDocument(dbc, docID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, types.PrincipalGroup, listed[0].PrincipalType)
}

func TestUserRepoUsernameLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := users.NewUserRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	username := "alice-" + uuid.NewString()
	user := &types.User{ID: uuid.New(), Username: username, PasswordHash: "x", IsActive: true}
	_, err := repo.Create(dbc, []*types.User{user})
	require.NoError(t, err)

	exists, err := repo.UsernameExists(dbc, username)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.GetByUsername(dbc, username)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	missing, err := repo.GetByUsername(dbc, "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
