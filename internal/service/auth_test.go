package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpp-chat/backend/internal/cache"
	"github.com/xpp-chat/backend/internal/db"
	"github.com/xpp-chat/backend/internal/model"
	"github.com/xpp-chat/backend/internal/password"
	"github.com/xpp-chat/backend/internal/token"
)

type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*model.User{}}
}

func (f *fakeStore) find(match func(*model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username })
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeStore) FindByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id })
}

func (f *fakeStore) InsertUser(_ context.Context, username, passwordHash, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Username == username || u.Email == email {
			return nil, fmt.Errorf("%w: %s", db.ErrDuplicate, username)
		}
	}
	f.nextID++
	now := time.Unix(1_700_000_000, 0)
	u := &model.User{
		ID:           f.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return db.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *AuthService
	store    *fakeStore
	sessions *cache.Memory
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := newFakeStore()
	sessions := cache.NewMemory(cache.WithMemoryClock(clock.Now))

	hasher, err := password.New(password.Config{
		Argon2: password.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1},
	})
	require.NoError(t, err)
	codec, err := token.NewCodec(token.Config{Secret: "test-secret", TTL: 24 * time.Hour}, token.WithClock(clock.Now))
	require.NoError(t, err)

	svc, err := NewAuthService(store, hasher, codec, sessions, nil)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, sessions: sessions, clock: clock}
}

func registerAlice(t *testing.T, f *fixture) *model.AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), model.RegisterRequest{
		Username: "alice",
		Password: "secret1",
		Email:    "alice@x.com",
	})
	require.NoError(t, err)
	return res
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg := registerAlice(t, f)
	t1 := reg.Token
	require.NotEmpty(t, t1)
	assert.Equal(t, "alice", reg.User.Username)
	assert.Equal(t, "alice@x.com", reg.User.Email)
	assert.True(t, reg.User.IsActive)

	login, err := f.svc.Login(ctx, model.LoginRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	t2 := login.Token
	assert.NotEqual(t, t1, t2)

	_, err = f.svc.Verify(ctx, t1)
	assert.ErrorIs(t, err, ErrUnauthorized, "superseded token must be rejected")

	user, err := f.svc.Verify(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, reg.User.ID, user.ID)

	require.NoError(t, f.svc.Logout(ctx, user.ID))
	_, err = f.svc.Verify(ctx, t2)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterStoresHashNotPlaintext(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	stored, err := f.store.FindByID(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	assert.Contains(t, stored.PasswordHash, "$argon2id$")
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  model.RegisterRequest
	}{
		{name: "empty username", req: model.RegisterRequest{Password: "secret1", Email: "a@x.com"}},
		{name: "empty password", req: model.RegisterRequest{Username: "a", Email: "a@x.com"}},
		{name: "short password", req: model.RegisterRequest{Username: "a", Password: "12345", Email: "a@x.com"}},
		{name: "empty email", req: model.RegisterRequest{Username: "a", Password: "secret1"}},
		{name: "email without at", req: model.RegisterRequest{Username: "a", Password: "secret1", Email: "ax.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, f.sessions.Len())
		})
	}
}

func TestRegisterValidationMessageUsesJSONNames(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Username: "a", Password: "123", Email: "a@x.com"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "password must be at least 6 characters")
}

func TestRegisterMinimumPasswordLength(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Username: "bob", Password: "123456", Email: "b@x.com"})
	assert.NoError(t, err)
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, model.RegisterRequest{Username: "alice", Password: "secret1", Email: "other@x.com"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Register(ctx, model.RegisterRequest{Username: "bob", Password: "secret1", Email: "alice@x.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

type racingStore struct {
	*fakeStore
}

// FindBy* always miss, so only the insert sees the collision.
func (r racingStore) FindByUsername(context.Context, string) (*model.User, error) {
	return nil, db.ErrNotFound
}

func (r racingStore) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, db.ErrNotFound
}

func TestRegisterInsertDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)

	svc, err := NewAuthService(racingStore{f.store}, f.svc.hasher, f.svc.tokens, f.sessions, nil)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), model.RegisterRequest{Username: "alice", Password: "secret1", Email: "alice@x.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)

	tests := []struct {
		name string
		req  model.LoginRequest
	}{
		{name: "wrong password", req: model.LoginRequest{Username: "alice", Password: "nope"}},
		{name: "unknown user", req: model.LoginRequest{Username: "ghost", Password: "secret1"}},
		{name: "empty", req: model.LoginRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestLoginFailureKeepsExistingSession(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, model.LoginRequest{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Verify(ctx, reg.Token)
	assert.NoError(t, err)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, err := password.SHA256{}.Hash("secret1")
	require.NoError(t, err)
	old, err := f.store.InsertUser(ctx, "old", legacy, "old@x.com")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, model.LoginRequest{Username: "old", Password: "wrong1"})
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.svc.Login(ctx, model.LoginRequest{Username: "old", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "old", res.User.Username)

	stored, err := f.store.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, password.KindArgon2id, password.Detect(stored.PasswordHash))

	// the upgraded hash keeps working
	_, err = f.svc.Login(ctx, model.LoginRequest{Username: "old", Password: "secret1"})
	assert.NoError(t, err)
}

func TestRegisterNeverStoresLegacyDigest(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	stored, err := f.store.FindByID(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, password.KindArgon2id, password.Detect(stored.PasswordHash))
}

func TestRegisterRejectsBlankFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, model.RegisterRequest{Username: "   ", Password: "secret1", Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Register(ctx, model.RegisterRequest{Username: "bob", Password: "secret1", Email: " \t "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterTrimsUsernameAndEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, model.RegisterRequest{Username: " alice ", Password: "secret1", Email: " alice@x.com "})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, "alice@x.com", res.User.Email)

	_, err = f.svc.Register(ctx, model.RegisterRequest{Username: "alice", Password: "secret1", Email: "b@x.com"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Login(ctx, model.LoginRequest{Username: "alice ", Password: "secret1"})
	assert.NoError(t, err)
}

func TestVerifyAtExactExpiry(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	f.clock.Advance(24 * time.Hour)
	user, err := f.svc.Verify(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	f.clock.Advance(24*time.Hour + time.Second)
	_, err := f.svc.Verify(context.Background(), reg.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyJustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	f.clock.Advance(24*time.Hour - time.Second)
	user, err := f.svc.Verify(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestVerifyGarbage(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)

	for _, tok := range []string{"", "abc", "a.b.c", "a.b.c.d"} {
		_, err := f.svc.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrUnauthorized, "token %q", tok)
	}
}

func TestVerifyForeignSignature(t *testing.T) {
	f := newFixture(t)
	reg := registerAlice(t, f)

	other, err := token.NewCodec(token.Config{Secret: "other-secret"}, token.WithClock(f.clock.Now))
	require.NoError(t, err)
	forged, _, err := other.Issue(reg.User.ID, "alice")
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), forged)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyMissingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, _, err := f.svc.tokens.Issue(99, "ghost")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Put(ctx, 99, tok, time.Hour))

	_, err = f.svc.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.Logout(ctx, 1))
	assert.NoError(t, f.svc.Logout(ctx, 1))
}

func TestStoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk on fire")
	f.store.err = boom

	_, err := f.svc.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "secret1"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Register(context.Background(), model.RegisterRequest{Username: "a", Password: "secret1", Email: "a@x.com"})
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentLoginsLeaveOneSession(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)
	ctx := context.Background()

	const n = 8
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Login(ctx, model.LoginRequest{Username: "alice", Password: "secret1"})
			if err == nil {
				tokens[i] = res.Token
			}
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, tok := range tokens {
		require.NotEmpty(t, tok)
		if _, err := f.svc.Verify(ctx, tok); err == nil {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}

func TestNewAuthServiceRequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewAuthService(nil, f.svc.hasher, f.svc.tokens, f.sessions, nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
	_, err = NewAuthService(f.store, nil, f.svc.tokens, f.sessions, nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
	_, err = NewAuthService(f.store, f.svc.hasher, nil, f.sessions, nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
	_, err = NewAuthService(f.store, f.svc.hasher, f.svc.tokens, nil, nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
