package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

func newTokenAuthService(t *testing.T, ttl time.Duration) *authService {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return &authService{
		log:       log,
		jwtSecret: []byte("test-secret"),
		tokenTTL:  ttl,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	as := newTokenAuthService(t, time.Hour)
	user := &types.User{ID: uuid.New(), Username: "alice", IsAdmin: true}

	token, err := as.generateToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ctx, err := as.SetContextFromToken(context.Background(), token)
	require.NoError(t, err)

	rd := ctxutil.GetRequestData(ctx)
	require.NotNil(t, rd)
	assert.Equal(t, user.ID, rd.UserID)
	assert.Equal(t, "alice", rd.Username)
	assert.True(t, rd.IsAdmin)
}

func TestExpiredTokenRejected(t *testing.T) {
	as := newTokenAuthService(t, -time.Minute)
	user := &types.User{ID: uuid.New(), Username: "bob"}

	token, err := as.generateToken(user)
	require.NoError(t, err)

	_, err = as.SetContextFromToken(context.Background(), token)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestTamperedTokenRejected(t *testing.T) {
	as := newTokenAuthService(t, time.Hour)
	user := &types.User{ID: uuid.New(), Username: "carol"}

	token, err := as.generateToken(user)
	require.NoError(t, err)

	other := newTokenAuthService(t, time.Hour)
	other.jwtSecret = []byte("different-secret")
	_, err = other.SetContextFromToken(context.Background(), token)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	_, err = as.SetContextFromToken(context.Background(), token+"x")
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}
