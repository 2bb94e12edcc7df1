package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/data/repos"
	types "github.com/docmesh/graphrag-backend/internal/domain"
	"github.com/docmesh/graphrag-backend/internal/pkg/ctxutil"
	"github.com/docmesh/graphrag-backend/internal/pkg/dbctx"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type AuthService interface {
	Register(ctx context.Context, username, password string) (*types.User, error)
	Login(ctx context.Context, username, password string) (string, *types.User, error)
	// SetContextFromToken validates the token and attaches the principal to
	// the returned context.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	CurrentUser(ctx context.Context) (*types.User, error)
}

type authService struct {
	db        *gorm.DB
	log       *logger.Logger
	userRepo  repos.UserRepo
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(db *gorm.DB, baseLog *logger.Logger, userRepo repos.UserRepo, jwtSecret string) AuthService {
	return &authService{
		db:        db,
		log:       baseLog.With("service", "AuthService"),
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  time.Duration(envutil.Int("JWT_TTL_MINUTES", 720)) * time.Minute,
	}
}

const (
	minUsernameLen = 3
	minPasswordLen = 8
)

func (as *authService) Register(ctx context.Context, username, password string) (*types.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < minUsernameLen {
		return nil, fmt.Errorf("%w: username must be at least %d characters", apperrors.ErrInvalidArgument, minUsernameLen)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrInvalidArgument, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *types.User
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		exists, eErr := as.userRepo.UsernameExists(dbc, username)
		if eErr != nil {
			return eErr
		}
		if exists {
			return fmt.Errorf("%w: username %q is taken", apperrors.ErrConflict, username)
		}
		user := &types.User{
			ID:           uuid.New(),
			Username:     username,
			PasswordHash: string(hash),
			IsActive:     true,
		}
		users, cErr := as.userRepo.Create(dbc, []*types.User{user})
		if cErr != nil {
			return cErr
		}
		created = users[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	as.log.Info("Registered user", "user_id", created.ID, "username", created.Username)
	return created, nil
}

func (as *authService) Login(ctx context.Context, username, password string) (string, *types.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	dbc := dbctx.Context{Ctx: ctx}

	user, err := as.userRepo.GetByUsername(dbc, username)
	if err != nil {
		return "", nil, err
	}
	// Run the compare even for unknown usernames so both failure paths cost
	// roughly the same.
	hash := "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv"
	if user != nil {
		hash = user.PasswordHash
	}
	if cErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); cErr != nil || user == nil {
		return "", nil, fmt.Errorf("%w: invalid username or password", apperrors.ErrUnauthorized)
	}
	if !user.IsActive {
		return "", nil, fmt.Errorf("%w: account is disabled", apperrors.ErrUnauthorized)
	}

	token, err := as.generateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (as *authService) generateToken(user *types.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"username": user.Username,
		"is_admin": user.IsAdmin,
		"iat":      now.Unix(),
		"exp":      now.Add(as.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(as.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return as.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ctx, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ctx, fmt.Errorf("%w: invalid token claims", apperrors.ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return ctx, fmt.Errorf("%w: invalid subject", apperrors.ErrUnauthorized)
	}
	username, _ := claims["username"].(string)
	isAdmin, _ := claims["is_admin"].(bool)

	rd := &ctxutil.RequestData{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

func (as *authService) CurrentUser(ctx context.Context) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: no authenticated user", apperrors.ErrUnauthorized)
	}
	users, err := as.userRepo.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, rd.UserID)
	}
	return users[0], nil
}
