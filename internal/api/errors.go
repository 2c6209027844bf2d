package api

import (
	"errors"
	"net/http"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage"
	"github.com/stefando/largeFileUpload/internal/upload"
)

// writeError maps err onto a status code. Validation reasons are returned verbatim, storage failures only
// by their category.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	log := logging.FromContext(r.Context()).WithError(err).WithField("status_code", status)
	if status >= http.StatusInternalServerError {
		log.Error("upload request failed")
	} else {
		log.Warn("upload request rejected")
	}
	http.Error(w, message, status)
}

func classify(err error) (int, string) {
	var validationErr *upload.ValidationError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Reason
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, storage.ErrInvalidTarget):
		return http.StatusBadRequest, storage.ErrInvalidTarget.Error()
	case errors.Is(err, storage.ErrTargetNotFound):
		return http.StatusNotFound, storage.ErrTargetNotFound.Error()
	case errors.Is(err, storage.ErrBlockNotStaged):
		return http.StatusConflict, storage.ErrBlockNotStaged.Error()
	case errors.Is(err, storage.ErrDuplicateBlock):
		return http.StatusConflict, storage.ErrDuplicateBlock.Error()
	case errors.Is(err, upload.ErrAppendInProgress):
		return http.StatusConflict, upload.ErrAppendInProgress.Error()
	case errors.Is(err, storage.ErrNotSupported):
		return http.StatusNotImplemented, storage.ErrNotSupported.Error()
	default:
		return http.StatusInternalServerError, "Failed to store upload"
	}
}
