package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T, maxSessions int) config.Config {
	t.Helper()
	cfg := config.Config{}
	cfg.Engine.MaxSessions = maxSessions
	cfg.Browser.ProfilesDir = t.TempDir()
	cfg.Browser.LaunchTimeout = 5 * time.Second
	return cfg
}

func testProfile(id string) *schemas.Profile {
	return &schemas.Profile{
		ID:     id,
		UserID: "user-1",
		Name:   "profile " + id,
		Status: schemas.ProfileIdle,
		Fingerprint: schemas.Fingerprint{
			UserAgent:    "UA",
			Platform:     "Win32",
			ScreenWidth:  1920,
			ScreenHeight: 1080,
		},
	}
}

func newLauncherWithStore(t *testing.T, factory schemas.SessionFactory, maxSessions int) (*Launcher, *mocks.MockStore) {
	t.Helper()
	store := new(mocks.MockStore)
	store.On("UpdateProfileStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return NewLauncher(factory, store, testConfig(t, maxSessions), zap.NewNop()), store
}

func TestLaunch_HappyPath(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	l, store := newLauncherWithStore(t, factory, 4)
	ctx := context.Background()

	profile := testProfile("p1")
	sess, err := l.Launch(ctx, profile, Options{Headless: true})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "p1", sess.ProfileID)
	assert.Equal(t, 1, l.ActiveCount())

	launched := factory.Launched()
	require.Len(t, launched, 1)
	assert.Equal(t, "p1", filepath.Base(launched[0]))

	store.AssertCalled(t, "UpdateProfileStatus", mock.Anything, "p1", schemas.ProfileActive, mock.Anything)

	require.NoError(t, sess.Release(ctx))
	assert.Zero(t, l.ActiveCount())
	store.AssertCalled(t, "UpdateProfileStatus", mock.Anything, "p1", schemas.ProfileIdle, mock.Anything)
}

func TestLaunch_NilProfile_IsValidation(t *testing.T) {
	l, _ := newLauncherWithStore(t, &mocks.FakeSessionFactory{}, 2)
	_, err := l.Launch(context.Background(), nil, Options{})
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))
}

func TestLaunch_SameProfileTwice_Conflicts(t *testing.T) {
	l, _ := newLauncherWithStore(t, &mocks.FakeSessionFactory{}, 4)
	ctx := context.Background()

	profile := testProfile("p1")
	sess, err := l.Launch(ctx, profile, Options{})
	require.NoError(t, err)
	defer sess.Release(ctx)

	_, err = l.Launch(ctx, profile, Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindConflict))

	// Releasing frees the profile for a fresh launch.
	require.NoError(t, sess.Release(ctx))
	sess2, err := l.Launch(ctx, profile, Options{})
	require.NoError(t, err)
	require.NoError(t, sess2.Release(ctx))
}

func TestLaunch_FactoryFailure_ReleasesClaim(t *testing.T) {
	factory := &mocks.FakeSessionFactory{
		FailFor: map[string]error{"p1": assert.AnError},
	}
	l, store := newLauncherWithStore(t, factory, 4)
	ctx := context.Background()

	_, err := l.Launch(ctx, testProfile("p1"), Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindLaunch))
	assert.Zero(t, l.ActiveCount())
	store.AssertNotCalled(t, "UpdateProfileStatus", mock.Anything, "p1", schemas.ProfileActive, mock.Anything)

	// The failed claim must not poison the profile.
	sess, err := l.Launch(ctx, testProfile("p2"), Options{})
	require.NoError(t, err)
	require.NoError(t, sess.Release(ctx))
}

func TestLaunch_SessionCapBlocksUntilRelease(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	l, _ := newLauncherWithStore(t, factory, 1)
	ctx := context.Background()

	first, err := l.Launch(ctx, testProfile("p1"), Options{})
	require.NoError(t, err)

	secondStarted := make(chan struct{})
	secondDone := make(chan error, 1)
	go func() {
		close(secondStarted)
		sess, err := l.Launch(ctx, testProfile("p2"), Options{})
		if err == nil {
			err = sess.Release(ctx)
		}
		secondDone <- err
	}()

	<-secondStarted
	// The second launch must wait on the slot, not fail.
	select {
	case err := <-secondDone:
		t.Fatalf("second launch finished before slot freed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release(ctx))
	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second launch never acquired the freed slot")
	}
	assert.Equal(t, 1, factory.MaxActive())
}

func TestLaunch_SemaphoreWaitHonorsContext(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	l, _ := newLauncherWithStore(t, factory, 1)
	ctx := context.Background()

	first, err := l.Launch(ctx, testProfile("p1"), Options{})
	require.NoError(t, err)
	defer first.Release(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Launch(waitCtx, testProfile("p2"), Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindLaunch))
	assert.Equal(t, 1, factory.MaxActive())
}

func TestLaunch_ProxyResolution(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	store := new(mocks.MockStore)
	store.On("UpdateProfileStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("FindProxyByID", mock.Anything, "proxy-1").Return(&schemas.Proxy{
		ID:       "proxy-1",
		Host:     "10.0.0.9",
		Port:     8080,
		Protocol: "http",
		Status:   schemas.ProxyOnline,
	}, nil)

	l := NewLauncher(factory, store, testConfig(t, 4), zap.NewNop())
	ctx := context.Background()

	profile := testProfile("p1")
	profile.ProxyID = "proxy-1"
	sess, err := l.Launch(ctx, profile, Options{})
	require.NoError(t, err)
	defer sess.Release(ctx)

	store.AssertCalled(t, "FindProxyByID", mock.Anything, "proxy-1")
}

func TestLaunch_UnknownProxy_IsNotFound(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	store := new(mocks.MockStore)
	store.On("FindProxyByID", mock.Anything, "missing").
		Return(nil, schemas.NewError(schemas.KindNotFound, "proxy missing not found"))

	l := NewLauncher(factory, store, testConfig(t, 4), zap.NewNop())

	profile := testProfile("p1")
	profile.ProxyID = "missing"
	_, err := l.Launch(context.Background(), profile, Options{})
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindNotFound))
	assert.Zero(t, l.ActiveCount())
	assert.Empty(t, factory.Launched())
}

func TestSessionRelease_Idempotent(t *testing.T) {
	factory := &mocks.FakeSessionFactory{}
	l, store := newLauncherWithStore(t, factory, 2)
	ctx := context.Background()

	sess, err := l.Launch(ctx, testProfile("p1"), Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Release(ctx)
		}()
	}
	wg.Wait()

	assert.Zero(t, l.ActiveCount())
	calls := 0
	for _, call := range store.Calls {
		if call.Method == "UpdateProfileStatus" && call.Arguments[2] == schemas.ProfileIdle {
			calls++
		}
	}
	assert.Equal(t, 1, calls)
}

func TestLaunch_ConcurrentDistinctProfiles(t *testing.T) {
	factory := &mocks.FakeSessionFactory{Delay: 10 * time.Millisecond}
	l, _ := newLauncherWithStore(t, factory, 3)
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := l.Launch(ctx, testProfile(string(rune('a'+i))), Options{})
			if err == nil {
				err = sess.Release(ctx)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "launch %d", i)
	}
	assert.LessOrEqual(t, factory.MaxActive(), 3)
	assert.Len(t, factory.Launched(), n)
}
