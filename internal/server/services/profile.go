package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/cryptox"
	"github.com/dmitrijs2005/videotube/internal/server/media"
	"github.com/dmitrijs2005/videotube/internal/server/models"
)

// lookup loads an account for an authenticated caller; a vanished account is
// treated as an authentication failure.
func (s *UserService) lookup(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewAuthenticationError("invalid access token")
		}
		return nil, s.internal(ctx, "account lookup failed", err)
	}
	return account, nil
}

func (s *UserService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return common.NewValidationError("new password is required")
	}

	account, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if !cryptox.CheckPassword(oldPassword, account.PasswordHash) {
		return common.NewValidationError("invalid old password")
	}

	digest, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, id, digest); err != nil {
		return s.internal(ctx, "failed to update password", err)
	}

	s.logger.Info(ctx, "password changed", "account_id", id)
	return nil
}

func (s *UserService) CurrentUser(ctx context.Context, id string) (*models.AccountView, error) {
	account, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	view := account.View()
	return &view, nil
}

// UpdateAccount changes the full name and/or email; at least one is required.
func (s *UserService) UpdateAccount(ctx context.Context, id, fullName, email string) (*models.AccountView, error) {
	fullName = strings.TrimSpace(fullName)
	email = normalize(email)

	if fullName == "" && email == "" {
		return nil, common.NewValidationError("fullName or email is required")
	}
	if email != "" && !emailPattern.MatchString(email) {
		return nil, common.NewValidationError("invalid email format")
	}

	account, err := s.users.UpdateDetails(ctx, id, fullName, email)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorAlreadyExists):
			return nil, common.NewConflictError("email is already in use")
		case errors.Is(err, common.ErrorNotFound):
			return nil, common.NewAuthenticationError("invalid access token")
		}
		return nil, s.internal(ctx, "failed to update account details", err)
	}

	view := account.View()
	return &view, nil
}

func (s *UserService) UpdateAvatar(ctx context.Context, id, localPath string) (*models.AccountView, error) {
	if localPath == "" {
		return nil, common.NewValidationError("avatar file is missing")
	}
	return s.replaceImage(ctx, id, localPath, "avatar",
		func(a *models.Account) string { return a.AvatarURL },
		s.users.UpdateAvatar)
}

func (s *UserService) UpdateCoverImage(ctx context.Context, id, localPath string) (*models.AccountView, error) {
	if localPath == "" {
		return nil, common.NewValidationError("cover image file is missing")
	}
	return s.replaceImage(ctx, id, localPath, "cover image",
		func(a *models.Account) string { return a.CoverImageURL },
		s.users.UpdateCoverImage)
}

// replaceImage uploads a new image, points the account at it and then
// deletes the previous object.
func (s *UserService) replaceImage(
	ctx context.Context,
	id, localPath, what string,
	current func(*models.Account) string,
	store func(ctx context.Context, id, url string) (*models.Account, error),
) (*models.AccountView, error) {
	account, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := current(account)

	asset, err := s.media.Upload(ctx, localPath, media.KindImage)
	if err != nil {
		return nil, s.internal(ctx, "error while uploading "+what, err)
	}
	if asset.URL == "" {
		return nil, s.internal(ctx, "error while uploading "+what, errors.New("empty url"))
	}

	updated, err := store(ctx, id, asset.URL)
	if err != nil {
		s.discard(ctx, asset.URL)
		return nil, s.internal(ctx, "failed to update "+what, err)
	}

	if previous != "" && previous != asset.URL {
		s.discard(ctx, previous)
	}

	view := updated.View()
	return &view, nil
}

// ChannelProfile returns the public profile of the channel owned by username.
func (s *UserService) ChannelProfile(ctx context.Context, username string) (*models.ChannelProfile, error) {
	username = normalize(username)
	if username == "" {
		return nil, common.NewValidationError("username is missing")
	}

	account, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewNotFoundError("channel does not exist")
		}
		return nil, s.internal(ctx, "channel lookup failed", err)
	}

	profile := account.Profile()
	return &profile, nil
}

func (s *UserService) WatchHistory(ctx context.Context, id string) ([]string, error) {
	history, err := s.users.WatchHistory(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewAuthenticationError("invalid access token")
		}
		return nil, s.internal(ctx, "failed to fetch watch history", err)
	}
	return history, nil
}
