package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/repo/memory"
	memorystorage "github.com/tendant/vehicle-images/pkg/vehicleimage/storage/memory"
)

const testBucket = "vehicle-images"

type handlerFixture struct {
	router http.Handler
	store  *memorystorage.Backend
	svc    vehicleimage.Service
}

// setupImagesHandlerTest wires the handler to in-memory repositories
func setupImagesHandlerTest(t *testing.T) *handlerFixture {
	t.Helper()
	store := memorystorage.New()
	svc, err := vehicleimage.New(
		vehicleimage.WithRepository(memory.New()),
		vehicleimage.WithObjectStore(store),
		vehicleimage.WithOwnerDirectory(memory.NewOwnerDirectory(42, 7)),
		vehicleimage.WithBucket(testBucket),
	)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Mount("/vehicles", NewImagesHandler(svc).Routes())
	return &handlerFixture{router: router, store: store, svc: svc}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// upload presigns, stores the object and confirms it
func (f *handlerFixture) upload(t *testing.T, vehicleID, fileName string, primary bool) ImageResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/vehicles/"+vehicleID+"/images/presigned-upload", PresignUploadRequest{ContentType: "image/png"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ticket PresignUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))

	require.NoError(t, f.store.Put(context.Background(), ticket.Bucket, ticket.Key, "image/png", strings.NewReader("png")))

	w = f.do(t, http.MethodPost, "/vehicles/"+vehicleID+"/images/confirm-upload", ConfirmUploadRequest{
		FileName:    fileName,
		ContentType: "image/png",
		Size:        3,
		Key:         ticket.Key,
		Primary:     primary,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var image ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &image))
	return image
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestImagesHandler_PresignUpload(t *testing.T) {
	f := setupImagesHandlerTest(t)

	w := f.do(t, http.MethodPost, "/vehicles/42/images/presigned-upload", PresignUploadRequest{ContentType: "image/jpeg"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp PresignUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testBucket, resp.Bucket)
	assert.True(t, strings.HasPrefix(resp.Key, "vehicles/42/"))
	assert.True(t, strings.HasSuffix(resp.Key, ".jpg"))
	assert.NotEmpty(t, resp.UploadURL)
	assert.False(t, resp.ExpiresAt.IsZero())
}

func TestImagesHandler_PresignUpload_Errors(t *testing.T) {
	f := setupImagesHandlerTest(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unsupported type", "/vehicles/42/images/presigned-upload", PresignUploadRequest{ContentType: "image/gif"}, http.StatusUnsupportedMediaType, "unsupported_content_type"},
		{"missing type", "/vehicles/42/images/presigned-upload", PresignUploadRequest{}, http.StatusBadRequest, "invalid_input"},
		{"unknown vehicle", "/vehicles/999/images/presigned-upload", PresignUploadRequest{ContentType: "image/png"}, http.StatusNotFound, "vehicle_not_found"},
		{"bad vehicle id", "/vehicles/abc/images/presigned-upload", PresignUploadRequest{ContentType: "image/png"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestImagesHandler_ConfirmUpload(t *testing.T) {
	f := setupImagesHandlerTest(t)

	first := f.upload(t, "42", "front.png", false)
	assert.True(t, first.Primary)
	assert.Equal(t, "front.png", first.FileName)

	second := f.upload(t, "42", "rear.png", false)
	assert.False(t, second.Primary)
}

func TestImagesHandler_ConfirmUpload_Errors(t *testing.T) {
	f := setupImagesHandlerTest(t)
	existing := f.upload(t, "42", "front.png", false)

	ctx := context.Background()
	orphan := "vehicles/42/" + uuid.NewString() + ".png"
	require.NoError(t, f.store.Put(ctx, testBucket, orphan, "image/png", strings.NewReader("png")))

	tests := []struct {
		name   string
		body   ConfirmUploadRequest
		status int
		code   string
	}{
		{"missing key", ConfirmUploadRequest{FileName: "a.png"}, http.StatusBadRequest, "missing_key"},
		{"missing file name", ConfirmUploadRequest{Key: orphan}, http.StatusBadRequest, "invalid_input"},
		{"foreign key", ConfirmUploadRequest{FileName: "a.png", Key: "vehicles/7/x.png"}, http.StatusBadRequest, "key_ownership_mismatch"},
		{"object not uploaded", ConfirmUploadRequest{FileName: "a.png", Key: "vehicles/42/missing.png"}, http.StatusUnprocessableEntity, "object_not_found"},
		{"duplicate file name", ConfirmUploadRequest{FileName: "front.png", Key: orphan}, http.StatusConflict, "duplicate_file_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/vehicles/42/images/confirm-upload", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}

	assert.Contains(t, f.store.Deletes(), orphan)
	assert.NotEqual(t, uuid.Nil, existing.ID)
}

func TestImagesHandler_ListImages(t *testing.T) {
	f := setupImagesHandlerTest(t)

	w := f.do(t, http.MethodGet, "/vehicles/42/images", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	first := f.upload(t, "42", "front.png", false)
	second := f.upload(t, "42", "rear.png", true)

	w = f.do(t, http.MethodGet, "/vehicles/42/images", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var views []vehicleimage.ImageView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.True(t, views[0].IsPrimary)
	assert.Equal(t, first.ID, views[1].ID)
	assert.False(t, views[1].IsPrimary)
	assert.NotEmpty(t, views[1].URL)
}

func TestImagesHandler_DeleteImage(t *testing.T) {
	f := setupImagesHandlerTest(t)
	first := f.upload(t, "42", "front.png", false)
	second := f.upload(t, "42", "rear.png", false)

	t.Run("other vehicle", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/vehicles/7/images/"+first.ID.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "image_not_found", decodeError(t, w).Error)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/vehicles/42/images/not-a-uuid", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("primary deleted promotes next", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/vehicles/42/images/"+first.ID.String(), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		views, err := f.svc.ListImages(context.Background(), 42)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, second.ID, views[0].ID)
		assert.True(t, views[0].IsPrimary)
	})

	t.Run("already deleted", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/vehicles/42/images/"+first.ID.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestImagesHandler_StoreUnavailable(t *testing.T) {
	f := setupImagesHandlerTest(t)
	f.store.PresignErr = errors.New("connection refused")

	w := f.do(t, http.MethodPost, "/vehicles/42/images/presigned-upload", PresignUploadRequest{ContentType: "image/png"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))

	resp := decodeError(t, w)
	assert.Equal(t, "store_unavailable", resp.Error)
	assert.NotContains(t, resp.Message, "connection refused")
}

func TestStatusFor(t *testing.T) {
	wrapped := &vehicleimage.ImageError{OwnerID: 42, Op: "confirm_upload", Err: vehicleimage.ErrDuplicateKey}
	status, code, message := statusFor(wrapped)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_key", code)
	assert.Equal(t, vehicleimage.ErrDuplicateKey.Error(), message)

	status, code, _ = statusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
}
