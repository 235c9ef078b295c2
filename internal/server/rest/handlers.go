package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/filex"
	"github.com/dmitrijs2005/videotube/internal/server/services"
	"github.com/go-chi/chi/v5"
)

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		default:
			return errBadJSON
		}
	}
	return nil
}

// parseMultipart parses a size-limited multipart form.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errBadMultipart
	}
	return nil
}

// stageFile copies the named form file to the upload dir. A missing file
// yields an empty path.
func (s *Server) stageFile(r *http.Request, field string) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return "", nil
	}

	path, err := filex.StageUpload(s.uploadDir, files[0])
	if err != nil {
		return "", common.NewInternalError(stagingFailure, err)
	}
	return path, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "health check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"}, "ok")
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	avatarPath, err := s.stageFile(r, "avatar")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	coverPath, err := s.stageFile(r, "coverImage")
	if err != nil {
		filex.RemoveQuietly(avatarPath)
		s.writeError(w, r, err)
		return
	}
	defer filex.RemoveQuietly(avatarPath, coverPath)

	view, err := s.users.Register(r.Context(), services.RegisterInput{
		FullName:       r.PostFormValue("fullName"),
		Username:       r.PostFormValue("username"),
		Email:          r.PostFormValue("email"),
		Password:       r.PostFormValue("password"),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, view, "User registered successfully")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.users.Login(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.transport.SetSession(w, res.AccessToken, res.RefreshToken)
	respond(w, http.StatusOK, res, "User logged in successfully")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthorized)
		return
	}

	if err := s.users.Logout(r.Context(), account.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.transport.ClearSession(w)
	respond(w, http.StatusOK, nil, "User logged out")
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.users.Refresh(r.Context(), s.transport.RefreshToken(r, body.RefreshToken))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.transport.SetSession(w, pair.AccessToken, pair.RefreshToken)
	respond(w, http.StatusOK, pair, "Access token refreshed")
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthorized)
		return
	}

	var body struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.users.ChangePassword(r.Context(), account.ID, body.OldPassword, body.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}

	respond(w, http.StatusOK, nil, "Password changed successfully")
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthorized)
		return
	}

	view, err := s.users.CurrentUser(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respond(w, http.StatusOK, view, "Current user fetched successfully")
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthorized)
		return
	}

	var body struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.users.UpdateAccount(r.Context(), account.ID, body.FullName, body.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respond(w, http.StatusOK, view, "Account details updated successfully")
}

type imageUpdater func(r *http.Request, id, localPath string) (any, error)

// updateImage handles the single-file profile image routes.
func (s *Server) updateImage(field, message string, update imageUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			s.writeError(w, r, errUnauthorized)
			return
		}

		if err := s.parseMultipart(w, r); err != nil {
			s.writeError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		path, err := s.stageFile(r, field)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer filex.RemoveQuietly(path)

		view, err := update(r, account.ID, path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		respond(w, http.StatusOK, view, message)
	}
}

func (s *Server) updateAvatar(w http.ResponseWriter, r *http.Request) {
	s.updateImage("avatar", "Avatar image updated successfully", func(r *http.Request, id, path string) (any, error) {
		return s.users.UpdateAvatar(r.Context(), id, path)
	})(w, r)
}

func (s *Server) updateCoverImage(w http.ResponseWriter, r *http.Request) {
	s.updateImage("coverImage", "Cover image updated successfully", func(r *http.Request, id, path string) (any, error) {
		return s.users.UpdateCoverImage(r.Context(), id, path)
	})(w, r)
}

func (s *Server) channelProfile(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))

	profile, err := s.users.ChannelProfile(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respond(w, http.StatusOK, profile, "User channel fetched successfully")
}

func (s *Server) watchHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errUnauthorized)
		return
	}

	history, err := s.users.WatchHistory(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []string{}
	}

	respond(w, http.StatusOK, history, "Watch history fetched successfully")
}
