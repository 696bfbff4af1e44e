package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// ImagesHandler serves the vehicle image endpoints
type ImagesHandler struct {
	service  vehicleimage.Service
	validate *validator.Validate
}

func NewImagesHandler(service vehicleimage.Service) *ImagesHandler {
	return &ImagesHandler{
		service:  service,
		validate: validator.New(),
	}
}

// Routes returns the router for vehicle image endpoints, mounted at /vehicles
func (h *ImagesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{vehicleID}/images", func(r chi.Router) {
		r.Post("/presigned-upload", h.PresignUpload)
		r.Post("/confirm-upload", h.ConfirmUpload)
		r.Get("/", h.ListImages)
		r.Delete("/{imageID}", h.DeleteImage)
	})
	return r
}

// PresignUploadRequest asks for a signed upload URL
type PresignUploadRequest struct {
	ContentType string `json:"content_type" validate:"required"`
}

// PresignUploadResponse carries the signed upload URL and the key to confirm with
type PresignUploadResponse struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmUploadRequest confirms a finished upload
type ConfirmUploadRequest struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size" validate:"gte=0"`
	Key         string `json:"key"`
	Primary     bool   `json:"primary"`
}

// ImageResponse is a confirmed image
type ImageResponse struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Primary     bool      `json:"primary"`
	CreatedAt   time.Time `json:"created_at"`
}

func vehicleIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "vehicleID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidVehicleID
	}
	return id, nil
}

// PresignUpload issues a signed PUT URL for a new image of the vehicle
func (h *ImagesHandler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := vehicleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PresignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		writeError(w, r, invalidInput(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, invalidInput(err))
		return
	}

	ticket, err := h.service.BeginUpload(r.Context(), vehicleID, req.ContentType)
	if err != nil {
		slog.Error("Failed to begin upload", "vehicle_id", vehicleID, "content_type", req.ContentType, "error", err)
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, PresignUploadResponse{
		Bucket:    ticket.Bucket,
		Key:       ticket.Key,
		UploadURL: ticket.URL,
		ExpiresAt: ticket.ExpiresAt,
	})
}

// ConfirmUpload records an uploaded object as an image of the vehicle
func (h *ImagesHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := vehicleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req ConfirmUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		writeError(w, r, invalidInput(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, invalidInput(err))
		return
	}

	image, err := h.service.ConfirmUpload(r.Context(), vehicleimage.ConfirmUploadRequest{
		OwnerID:     vehicleID,
		Key:         req.Key,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
		Primary:     req.Primary,
	})
	if err != nil {
		slog.Error("Failed to confirm upload", "vehicle_id", vehicleID, "key", req.Key, "error", err)
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ImageResponse{
		ID:          image.ID,
		Key:         image.Key,
		FileName:    image.FileName,
		ContentType: image.ContentType,
		Size:        image.Size,
		Primary:     image.IsPrimary,
		CreatedAt:   image.CreatedAt,
	})
}

// ListImages returns the vehicle's images, primary first, with fresh download URLs
func (h *ImagesHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := vehicleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views, err := h.service.ListImages(r.Context(), vehicleID)
	if err != nil {
		slog.Error("Failed to list images", "vehicle_id", vehicleID, "error", err)
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, views)
}

// DeleteImage removes an image of the vehicle
func (h *ImagesHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := vehicleIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, r, vehicleimage.ErrImageNotFound)
		return
	}

	image, err := h.service.GetImage(r.Context(), imageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if image.OwnerID != vehicleID {
		writeError(w, r, vehicleimage.ErrImageNotFound)
		return
	}

	if err := h.service.DeleteImage(r.Context(), imageID); err != nil {
		if !errors.Is(err, vehicleimage.ErrImageNotFound) {
			slog.Error("Failed to delete image", "vehicle_id", vehicleID, "image_id", imageID, "error", err)
		}
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
