// Package services contains server-side business logic. This file implements
// UserService: registration, login, refresh-token rotation and logout, plus
// the access-token check used by the HTTP middleware.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/cryptox"
	"github.com/dmitrijs2005/videotube/internal/logging"
	"github.com/dmitrijs2005/videotube/internal/server/auth"
	"github.com/dmitrijs2005/videotube/internal/server/config"
	"github.com/dmitrijs2005/videotube/internal/server/media"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/dmitrijs2005/videotube/internal/server/repositories/users"
	"golang.org/x/sync/errgroup"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// MediaStore uploads staged files and deletes stored objects.
type MediaStore interface {
	Upload(ctx context.Context, localPath string, kind media.Kind) (*media.Asset, error)
	Remove(ctx context.Context, url string) error
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	User models.AccountView `json:"user"`
	TokenPair
}

// RegisterInput carries the registration form. AvatarPath and
// CoverImagePath point at staged local files.
type RegisterInput struct {
	FullName       string
	Username       string
	Email          string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserService struct {
	users         users.Repository
	media         MediaStore
	logger        logging.Logger
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	bcryptCost    int

	// cleanupTimeout bounds removal of orphaned media objects.
	cleanupTimeout time.Duration
}

// NewUserService constructs a UserService from the credential store, the
// media collaborator and server config.
func NewUserService(repo users.Repository, store MediaStore, cfg *config.Config, logger logging.Logger) *UserService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &UserService{
		users:         repo,
		media:         store,
		logger:        logger.With("module", "users"),
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenValidityDuration,
		refreshTTL:    cfg.RefreshTokenValidityDuration,
		bcryptCost:    cfg.BcryptCost,

		cleanupTimeout: cleanupTimeout(cfg.UploadTimeout),
	}
}

const defaultCleanupTimeout = 30 * time.Second

func cleanupTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultCleanupTimeout
	}
	return d
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// internal logs cause and returns an InternalError carrying msg.
func (s *UserService) internal(ctx context.Context, msg string, cause error) error {
	s.logger.Error(ctx, msg, "error", cause)
	return common.NewInternalError(msg, cause)
}

func (s *UserService) hashPassword(ctx context.Context, password string) (string, error) {
	digest, err := cryptox.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, cryptox.ErrPasswordTooLong) {
			return "", common.NewValidationError("password is too long")
		}
		return "", s.internal(ctx, "password hashing failed", err)
	}
	return digest, nil
}

// Register validates the form, uploads the images and creates the account.
// The avatar is mandatory; a failed cover upload is logged and skipped.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.AccountView, error) {
	fullName := strings.TrimSpace(in.FullName)
	username := normalize(in.Username)
	email := normalize(in.Email)

	if fullName == "" || username == "" || email == "" || strings.TrimSpace(in.Password) == "" {
		return nil, common.NewValidationError("all fields are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, common.NewValidationError("invalid email format")
	}

	_, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil:
		return nil, common.NewConflictError("user with same email or username exists")
	case !errors.Is(err, common.ErrorNotFound):
		return nil, s.internal(ctx, "account lookup failed", err)
	}

	if in.AvatarPath == "" {
		return nil, common.NewValidationError("avatar is required")
	}

	digest, err := s.hashPassword(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	avatarURL, coverURL, err := s.uploadImages(ctx, in.AvatarPath, in.CoverImagePath)
	if err != nil {
		return nil, err
	}

	created, err := s.users.Create(ctx, &models.Account{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  digest,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		s.discard(ctx, avatarURL, coverURL)
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.NewConflictError("user with same email or username exists")
		}
		return nil, s.internal(ctx, "something went wrong while registering the user", err)
	}

	account, err := s.users.FindByID(ctx, created.ID)
	if err != nil {
		return nil, s.internal(ctx, "something went wrong while registering the user", err)
	}

	s.logger.Info(ctx, "account registered", "account_id", account.ID, "username", account.Username)

	view := account.View()
	return &view, nil
}

// uploadImages stores the avatar and the optional cover concurrently.
func (s *UserService) uploadImages(ctx context.Context, avatarPath, coverPath string) (string, string, error) {
	var avatar, cover *media.Asset

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		avatar, err = s.media.Upload(gctx, avatarPath, media.KindImage)
		return err
	})
	if coverPath != "" {
		g.Go(func() error {
			var err error
			cover, err = s.media.Upload(gctx, coverPath, media.KindImage)
			if err != nil {
				s.logger.Warn(ctx, "cover image upload failed", "error", err)
				cover = nil
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil || avatar == nil || avatar.URL == "" {
		if cover != nil {
			s.discard(ctx, cover.URL)
		}
		if err == nil {
			err = errors.New("empty avatar url")
		}
		return "", "", s.internal(ctx, "avatar upload failed", err)
	}

	coverURL := ""
	if cover != nil {
		coverURL = cover.URL
	}
	return avatar.URL, coverURL, nil
}

// discard removes stored objects that ended up unreferenced. It outlives a
// cancelled request so that a client disconnect does not orphan objects.
func (s *UserService) discard(ctx context.Context, urls ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()

	for _, u := range urls {
		if u == "" {
			continue
		}
		if err := s.media.Remove(ctx, u); err != nil {
			s.logger.Warn(ctx, "failed to remove media object", "url", u, "error", err)
		}
	}
}

// Login authenticates by username or email and starts a new session,
// replacing any previous refresh token.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	username := normalize(in.Username)
	email := normalize(in.Email)

	if username == "" && email == "" {
		return nil, common.NewValidationError("username or email is required")
	}

	account, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewAuthenticationError("user does not exist")
		}
		return nil, s.internal(ctx, "account lookup failed", err)
	}

	if !cryptox.CheckPassword(in.Password, account.PasswordHash) {
		return nil, common.NewAuthenticationError("invalid credentials")
	}

	pair, err := s.issuePair(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, account.ID, pair.RefreshToken); err != nil {
		return nil, s.internal(ctx, "failed to store refresh token", err)
	}

	s.logger.Info(ctx, "account logged in", "account_id", account.ID)

	return &LoginResult{User: account.View(), TokenPair: *pair}, nil
}

// Refresh exchanges a valid, current refresh token for a new pair. The
// stored token is swapped atomically, so a token can be used at most once.
func (s *UserService) Refresh(ctx context.Context, incoming string) (*TokenPair, error) {
	if incoming == "" {
		return nil, common.NewAuthenticationError("unauthorized")
	}

	claims, err := auth.VerifyRefreshToken(incoming, s.refreshSecret)
	if err != nil {
		return nil, common.NewAuthenticationError(err.Error())
	}

	account, err := s.users.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewAuthenticationError("invalid refresh token")
		}
		return nil, s.internal(ctx, "account lookup failed", err)
	}

	if subtle.ConstantTimeCompare([]byte(account.RefreshToken), []byte(incoming)) != 1 {
		s.logger.Warn(ctx, "stale refresh token presented", "account_id", account.ID)
		return nil, common.NewAuthenticationError("refresh token is expired or used")
	}

	pair, err := s.issuePair(ctx, account)
	if err != nil {
		return nil, err
	}

	if err := s.users.RotateRefreshToken(ctx, account.ID, incoming, pair.RefreshToken); err != nil {
		if errors.Is(err, common.ErrorRefreshTokenMismatch) {
			return nil, common.NewAuthenticationError("refresh token is expired or used")
		}
		return nil, s.internal(ctx, "failed to rotate refresh token", err)
	}

	return pair, nil
}

// Logout ends the account's session. Logging out twice is not an error.
func (s *UserService) Logout(ctx context.Context, accountID string) error {
	if err := s.users.ClearRefreshToken(ctx, accountID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return s.internal(ctx, "failed to clear refresh token", err)
	}
	s.logger.Info(ctx, "account logged out", "account_id", accountID)
	return nil
}

// Authenticate resolves an access token to the account it was issued for.
// It never writes to the store.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.AccountView, error) {
	if token == "" {
		return nil, common.NewAuthenticationError("unauthorized")
	}

	claims, err := auth.VerifyAccessToken(token, s.accessSecret)
	if err != nil {
		return nil, common.NewAuthenticationError(err.Error())
	}

	account, err := s.users.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewAuthenticationError("invalid access token")
		}
		return nil, s.internal(ctx, "account lookup failed", err)
	}

	view := account.View()
	return &view, nil
}

func (s *UserService) issuePair(ctx context.Context, a *models.Account) (*TokenPair, error) {
	access, err := auth.IssueAccessToken(auth.AccessClaims{
		ID:       a.ID,
		Email:    a.Email,
		Username: a.Username,
		FullName: a.FullName,
	}, s.accessSecret, s.accessTTL)
	if err != nil {
		return nil, s.internal(ctx, "something went wrong while generating tokens", err)
	}

	refresh, err := auth.IssueRefreshToken(auth.RefreshClaims{ID: a.ID}, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return nil, s.internal(ctx, "something went wrong while generating tokens", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
