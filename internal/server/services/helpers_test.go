package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/server/config"
	"github.com/dmitrijs2005/videotube/internal/server/media"
	"github.com/dmitrijs2005/videotube/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeMedia is an in-memory MediaStore. Paths listed in failPaths fail.
type fakeMedia struct {
	mu        sync.Mutex
	failPaths map[string]error
	uploaded  []string
	removed   []string

	// removeErrs records ctx.Err() observed by each Remove call.
	removeErrs []error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{failPaths: map[string]error{}}
}

func (f *fakeMedia) Upload(_ context.Context, localPath string, kind media.Kind) (*media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failPaths[localPath]; ok {
		return nil, err
	}
	url := "https://cdn.test/" + string(kind) + "/" + filepath.Base(localPath)
	f.uploaded = append(f.uploaded, url)
	return &media.Asset{URL: url, Key: filepath.Base(localPath)}, nil
}

func (f *fakeMedia) Remove(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, url)
	f.removeErrs = append(f.removeErrs, ctx.Err())
	return ctx.Err()
}

func (f *fakeMedia) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[path] = errors.New("upload failed")
}

func testConfig() *config.Config {
	return &config.Config{
		AccessTokenSecret:            "access-secret",
		RefreshTokenSecret:           "refresh-secret",
		AccessTokenValidityDuration:  15 * time.Minute,
		RefreshTokenValidityDuration: time.Hour,
		BcryptCost:                   bcrypt.MinCost,
	}
}

func newTestService(t *testing.T) (*UserService, *users.MemoryRepository, *fakeMedia) {
	t.Helper()
	repo := users.NewMemoryRepository()
	store := newFakeMedia()
	return NewUserService(repo, store, testConfig(), nil), repo, store
}

func registerInput(username, email string) RegisterInput {
	return RegisterInput{
		FullName:   "  " + username + " Example ",
		Username:   username,
		Email:      email,
		Password:   "secret123",
		AvatarPath: "/tmp/" + username + "-avatar.png",
	}
}

func requireKind(t *testing.T, err error, kind common.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, common.KindOf(err), "unexpected kind for %v", err)
	if msg != "" {
		assert.Equal(t, msg, common.MessageOf(err, ""))
	}
}
