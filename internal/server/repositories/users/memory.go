package users

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps accounts in process memory. A single mutex guards
// the id, username and email indexes so uniqueness checks and
// compare-and-swap updates are atomic.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*models.Account
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]*models.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

func clone(a *models.Account) *models.Account {
	c := *a
	c.WatchHistory = append([]string{}, a.WatchHistory...)
	return &c
}

func (r *MemoryRepository) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[account.Username]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if _, ok := r.byEmail[account.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}

	a := clone(account)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, ok := r.byID[a.ID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	a.CreatedAt = r.now().UTC()
	a.UpdatedAt = a.CreatedAt

	r.byID[a.ID] = a
	r.byUsername[a.Username] = a.ID
	r.byEmail[a.Email] = a.ID

	return clone(a), nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	r.mu.RLock()
	id, ok := r.byUsername[username]
	r.mu.RUnlock()

	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *MemoryRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	var (
		id string
		ok bool
	)

	r.mu.RLock()
	if username != "" {
		id, ok = r.byUsername[username]
	}
	if !ok && email != "" {
		id, ok = r.byEmail[email]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.FindByID(ctx, id)
}

// update applies fn to the stored account under the write lock.
func (r *MemoryRepository) update(id string, fn func(a *models.Account) error) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.UpdatedAt = r.now().UTC()
	return clone(a), nil
}

func (r *MemoryRepository) SetRefreshToken(_ context.Context, id, token string) error {
	_, err := r.update(id, func(a *models.Account) error {
		a.RefreshToken = token
		return nil
	})
	return err
}

func (r *MemoryRepository) RotateRefreshToken(_ context.Context, id, current, next string) error {
	_, err := r.update(id, func(a *models.Account) error {
		if a.RefreshToken == "" || a.RefreshToken != current {
			return common.ErrorRefreshTokenMismatch
		}
		a.RefreshToken = next
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorRefreshTokenMismatch
	}
	return err
}

func (r *MemoryRepository) ClearRefreshToken(_ context.Context, id string) error {
	_, err := r.update(id, func(a *models.Account) error {
		a.RefreshToken = ""
		return nil
	})
	return err
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	_, err := r.update(id, func(a *models.Account) error {
		a.PasswordHash = passwordHash
		return nil
	})
	return err
}

func (r *MemoryRepository) UpdateDetails(_ context.Context, id, fullName, email string) (*models.Account, error) {
	return r.update(id, func(a *models.Account) error {
		if email != "" && email != a.Email {
			if _, taken := r.byEmail[email]; taken {
				return common.ErrorAlreadyExists
			}
			delete(r.byEmail, a.Email)
			r.byEmail[email] = a.ID
			a.Email = email
		}
		if fullName != "" {
			a.FullName = fullName
		}
		return nil
	})
}

func (r *MemoryRepository) UpdateAvatar(_ context.Context, id, url string) (*models.Account, error) {
	return r.update(id, func(a *models.Account) error {
		a.AvatarURL = url
		return nil
	})
}

func (r *MemoryRepository) UpdateCoverImage(_ context.Context, id, url string) (*models.Account, error) {
	return r.update(id, func(a *models.Account) error {
		a.CoverImageURL = url
		return nil
	})
}

func (r *MemoryRepository) WatchHistory(ctx context.Context, id string) ([]string, error) {
	a, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.WatchHistory, nil
}

// AddToWatchHistory appends videoID unless it is already present.
func (r *MemoryRepository) AddToWatchHistory(_ context.Context, id, videoID string) error {
	_, err := r.update(id, func(a *models.Account) error {
		for _, v := range a.WatchHistory {
			if v == videoID {
				return nil
			}
		}
		a.WatchHistory = append(a.WatchHistory, videoID)
		return nil
	})
	return err
}
