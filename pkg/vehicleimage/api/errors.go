package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// retryAfterSeconds is advertised with 503 responses
const retryAfterSeconds = "5"

var errInvalidVehicleID = errors.New("invalid vehicle id")

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func invalidInput(err error) error {
	return &inputError{err: err}
}

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{vehicleimage.ErrUnsupportedContentType, http.StatusUnsupportedMediaType, "unsupported_content_type"},
	{vehicleimage.ErrMissingKey, http.StatusBadRequest, "missing_key"},
	{vehicleimage.ErrKeyOwnershipMismatch, http.StatusBadRequest, "key_ownership_mismatch"},
	{errInvalidVehicleID, http.StatusBadRequest, "invalid_input"},
	{vehicleimage.ErrOwnerNotFound, http.StatusNotFound, "vehicle_not_found"},
	{vehicleimage.ErrImageNotFound, http.StatusNotFound, "image_not_found"},
	{vehicleimage.ErrObjectNotFound, http.StatusUnprocessableEntity, "object_not_found"},
	{vehicleimage.ErrDuplicateFileName, http.StatusConflict, "duplicate_file_name"},
	{vehicleimage.ErrDuplicateKey, http.StatusConflict, "duplicate_key"},
	{vehicleimage.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// statusFor maps an error to its HTTP status, error code and the rule text
// shown to the client. Store causes are never exposed.
func statusFor(err error) (int, string, string) {
	var in *inputError
	if errors.As(err, &in) {
		return http.StatusBadRequest, "invalid_input", in.Error()
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.target) {
			return e.status, e.code, e.target.Error()
		}
	}
	return http.StatusInternalServerError, "internal_error", "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: code, Message: message})
}
