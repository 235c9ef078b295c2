// Package models defines the account record and the sanitized views that
// leave the service.
package models

import "time"

// Account is the stored credential and profile record. PasswordHash and
// RefreshToken never leave the service; use View or Profile instead.
type Account struct {
	ID            string    `bson:"_id"`
	Username      string    `bson:"username"`
	Email         string    `bson:"email"`
	FullName      string    `bson:"fullName"`
	PasswordHash  string    `bson:"password"`
	AvatarURL     string    `bson:"avatar"`
	CoverImageURL string    `bson:"coverImage,omitempty"`
	RefreshToken  string    `bson:"refreshToken,omitempty"`
	WatchHistory  []string  `bson:"watchHistory"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// AccountView is an Account without secrets.
type AccountView struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ChannelProfile is the public part of an account shown to other users.
type ChannelProfile struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	CreatedAt     time.Time `json:"createdAt"`
}

// View returns the sanitized form of a.
func (a *Account) View() AccountView {
	history := make([]string, len(a.WatchHistory))
	copy(history, a.WatchHistory)

	return AccountView{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		WatchHistory:  history,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// Profile returns the public channel subset of a.
func (a *Account) Profile() ChannelProfile {
	return ChannelProfile{
		ID:            a.ID,
		Username:      a.Username,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		CreatedAt:     a.CreatedAt,
	}
}
