package rest

import (
	"net/http"

	"github.com/dmitrijs2005/videotube/internal/common"
)

const (
	genericErrorMessage = "internal server error"
	stagingFailure      = "failed to stage uploaded file"
)

var (
	errUnauthorized = common.NewAuthenticationError("unauthorized")
	errBadJSON      = common.NewValidationError("invalid JSON body")
	errBodyTooLarge = common.NewValidationError("request body is too large")
	errBadMultipart = common.NewValidationError("invalid multipart form")
)

// statusOf maps an error kind to its HTTP status.
func statusOf(kind common.Kind) int {
	switch kind {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindConflict:
		return http.StatusConflict
	case common.KindAuthentication:
		return http.StatusUnauthorized
	case common.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place where flow errors become HTTP responses.
// Causes of internal errors are logged and never sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := common.KindOf(err)
	status := statusOf(kind)

	message := common.MessageOf(err, genericErrorMessage)
	if kind == common.KindInternal {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	respondError(w, status, message)
}
