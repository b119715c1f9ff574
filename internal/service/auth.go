package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xpp-chat/backend/internal/cache"
	"github.com/xpp-chat/backend/internal/db"
	"github.com/xpp-chat/backend/internal/logger"
	"github.com/xpp-chat/backend/internal/model"
	"github.com/xpp-chat/backend/internal/password"
	"github.com/xpp-chat/backend/internal/token"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrMisconfigured = errors.New("auth config invalid")
)

// UserStore is the persistence the auth service needs. Implementations
// report db.ErrNotFound and db.ErrDuplicate.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
	InsertUser(ctx context.Context, username, passwordHash, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}

// rehasher is implemented by password.Policy.
type rehasher interface {
	NeedsRehash(encoded string) bool
}

type AuthService struct {
	users    UserStore
	hasher   password.Hasher
	tokens   *token.Codec
	sessions cache.SessionCache
	log      *logger.Logger
	validate *validator.Validate
}

func NewAuthService(users UserStore, hasher password.Hasher, tokens *token.Codec, sessions cache.SessionCache, log *logger.Logger) (*AuthService, error) {
	switch {
	case users == nil:
		return nil, fmt.Errorf("%w: user store is required", ErrMisconfigured)
	case hasher == nil:
		return nil, fmt.Errorf("%w: password hasher is required", ErrMisconfigured)
	case tokens == nil:
		return nil, fmt.Errorf("%w: token codec is required", ErrMisconfigured)
	case sessions == nil:
		return nil, fmt.Errorf("%w: session cache is required", ErrMisconfigured)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		log:      log.WithComponent("auth"),
		validate: newValidator(),
	}, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Register creates the account and starts its first session.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	if err := s.ensureAvailable(ctx, req.Username, req.Email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.InsertUser(ctx, req.Username, hash, req.Email)
	if err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, db.ErrDuplicate) {
			return nil, fmt.Errorf("%w: username or email already exists", ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	result, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", map[string]interface{}{"user_id": user.ID, "username": user.Username})
	return result, nil
}

// Login checks credentials and replaces any existing session for the user.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.log.Warn("login failed", map[string]interface{}{"username": req.Username, "reason": "unknown user"})
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		s.log.WithError(err).Warn("stored password hash unreadable", map[string]interface{}{"user_id": user.ID})
	}
	if !ok {
		s.log.Warn("login failed", map[string]interface{}{"username": req.Username, "reason": "password mismatch"})
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	s.upgradeHash(ctx, user, req.Password)

	result, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", map[string]interface{}{"user_id": user.ID})
	return result, nil
}

// Verify accepts a token only if it decodes, is unexpired and is still the
// user's current session token.
func (s *AuthService) Verify(ctx context.Context, tokenStr string) (*model.PublicUser, error) {
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	current, ok, err := s.sessions.Get(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(current), []byte(tokenStr)) != 1 {
		return nil, fmt.Errorf("%w: session expired or replaced", ErrUnauthorized)
	}

	return s.UserByID(ctx, claims.UserID)
}

// Logout drops the user's session. Safe to call when none exists.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.log.Info("user logged out", map[string]interface{}{"user_id": userID})
	return nil
}

func (s *AuthService) UserByID(ctx context.Context, id int64) (*model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	public := user.Public()
	return &public, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return fmt.Errorf("%w: username already exists", ErrConflict)
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("find user: %w", err)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email already exists", ErrConflict)
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("find user: %w", err)
	}
	return nil
}

// upgradeHash rewrites a hash made by another kind with the configured one.
// Failures are logged; the login itself has already succeeded.
func (s *AuthService) upgradeHash(ctx context.Context, user *model.User, plaintext string) {
	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(user.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(plaintext)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.log.WithError(err).Warn("password rehash failed", map[string]interface{}{"user_id": user.ID})
		return
	}
	s.log.Info("password hash upgraded", map[string]interface{}{"user_id": user.ID})
}

func (s *AuthService) startSession(ctx context.Context, user *model.User) (*model.AuthResult, error) {
	signed, _, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Put(ctx, user.ID, signed, s.tokens.TTL()); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &model.AuthResult{Token: signed, User: user.Public()}, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "contains":
		return fmt.Sprintf("%s must contain %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
