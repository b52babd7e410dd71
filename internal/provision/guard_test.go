package provision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

// countingRepo wraps a repository and counts inserts.
type countingRepo struct {
	profile.Repository
	mu      sync.Mutex
	creates int
}

func (r *countingRepo) Create(ctx context.Context, p profile.Profile) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.Repository.Create(ctx, p)
}

// racingRepo misses the row on the first lookup, then the insert collides because
// another process inserted the same row in between.
type racingRepo struct {
	profile.Repository
	mu      sync.Mutex
	lookups int
}

func (r *racingRepo) FindByID(_ context.Context, id string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups == 1 {
		return profile.Profile{}, profile.ErrNotFound
	}
	return profile.Profile{ID: id}, nil
}

func (*racingRepo) Create(context.Context, profile.Profile) error {
	return profile.ErrDuplicate
}

// cancelOnCreateRepo cancels the calling request while its insert is in flight.
type cancelOnCreateRepo struct {
	profile.Repository
	cancel context.CancelFunc
}

func (r cancelOnCreateRepo) Create(ctx context.Context, p profile.Profile) error {
	r.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.Create(ctx, p)
}

type brokenRepo struct {
	profile.Repository
	findErr   error
	createErr error
}

func (r brokenRepo) FindByID(context.Context, string) (profile.Profile, error) {
	if r.findErr != nil {
		return profile.Profile{}, r.findErr
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (r brokenRepo) Create(context.Context, profile.Profile) error {
	return r.createErr
}

func TestEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Repository: profile.NewMemoryRepository()}
	guard := NewGuard(repo, nil)
	id := uuid.NewString()
	age := 24
	subject := Subject{
		Identity:   credential.Identity{ID: id},
		Phone:      "+919876543210",
		Attributes: profile.Attributes{FullName: "Ravi", Age: &age, Category: "Student"},
	}

	first, err := guard.Ensure(ctx, subject)
	require.NoError(t, err)
	require.Equal(t, ResultCreated, first)

	second, err := guard.Ensure(ctx, subject)
	require.NoError(t, err)
	require.Equal(t, ResultExisting, second)
	require.Equal(t, 1, repo.creates)

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "+919876543210", stored.Phone)
	require.Equal(t, "Ravi", stored.FullName)
	require.Equal(t, 24, *stored.Age)
}

func TestEnsureConcurrentCallsCreateOneRow(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Repository: profile.NewMemoryRepository()}
	guard := NewGuard(repo, nil)
	id := uuid.NewString()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := guard.Ensure(ctx, Subject{Identity: credential.Identity{ID: id, Email: "tab@example.com"}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, repo.creates)
}

func TestEnsureTreatsDuplicateInsertAsSuccess(t *testing.T) {
	repo := &racingRepo{}
	guard := NewGuard(repo, nil)
	result, err := guard.Ensure(context.Background(), Subject{Identity: credential.Identity{ID: uuid.NewString()}})
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, result)
	require.Equal(t, 2, repo.lookups)
}

func TestEnsureFailsWhenPhoneBelongsToAnotherProfile(t *testing.T) {
	ctx := context.Background()
	repo := profile.NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, profile.Profile{ID: uuid.NewString(), Phone: "+919876543210"}))

	id := uuid.NewString()
	result, err := NewGuard(repo, nil).Ensure(ctx, Subject{
		Identity: credential.Identity{ID: id},
		Phone:    "+919876543210",
	})
	require.ErrorIs(t, err, ErrProvisioningFailed)
	require.Empty(t, result)

	_, err = repo.FindByID(ctx, id)
	require.ErrorIs(t, err, profile.ErrNotFound)
}

func TestEnsureSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := profile.NewMemoryRepository()
	id := uuid.NewString()

	result, err := NewGuard(cancelOnCreateRepo{Repository: repo, cancel: cancel}, nil).
		Ensure(ctx, Subject{Identity: credential.Identity{ID: id}})
	require.NoError(t, err)
	require.Equal(t, ResultCreated, result)

	_, err = repo.FindByID(context.Background(), id)
	require.NoError(t, err)
}

func TestEnsureSurfacesOtherFailures(t *testing.T) {
	ctx := context.Background()
	subject := Subject{Identity: credential.Identity{ID: uuid.NewString()}}

	_, err := NewGuard(brokenRepo{createErr: errors.New("connection reset")}, nil).Ensure(ctx, subject)
	require.ErrorIs(t, err, ErrProvisioningFailed)

	_, err = NewGuard(brokenRepo{findErr: errors.New("timeout")}, nil).Ensure(ctx, subject)
	require.ErrorIs(t, err, ErrProvisioningFailed)
}

func TestEnsureRequiresIdentity(t *testing.T) {
	repo := &countingRepo{Repository: profile.NewMemoryRepository()}
	_, err := NewGuard(repo, nil).Ensure(context.Background(), Subject{Phone: "+919876543210"})
	require.ErrorIs(t, err, credential.ErrSessionInvalid)
	require.Zero(t, repo.creates)
}

func TestEnsureFallsBackToIdentityMetadata(t *testing.T) {
	ctx := context.Background()
	repo := profile.NewMemoryRepository()
	id := uuid.NewString()
	_, err := NewGuard(repo, nil).Ensure(ctx, Subject{Identity: credential.Identity{
		ID:       id,
		Email:    "oauth@example.com",
		Metadata: map[string]string{"name": "OAuth User", "avatar_url": "https://img.example.com/a.png"},
	}})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "OAuth User", stored.FullName)
	require.Equal(t, "oauth@example.com", stored.Email)
	require.Equal(t, "https://img.example.com/a.png", stored.AvatarURL)
}
