package objectkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsupportedContentType is returned for any content type outside the image allow-list.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Root is the first path segment of every vehicle image key.
const Root = "vehicles"

// extensions is the allow-list of uploadable content types.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates a storage key for a new image of the given owner
	GenerateKey(ownerID int64, contentType string) (string, error)
}

// UUIDGenerator produces keys of the form vehicles/{ownerID}/{uuid}{ext}
type UUIDGenerator struct {
	// NewID returns the random component. Defaults to uuid.New.
	NewID func() uuid.UUID
}

func NewGenerator() *UUIDGenerator {
	return &UUIDGenerator{NewID: uuid.New}
}

func (g *UUIDGenerator) GenerateKey(ownerID int64, contentType string) (string, error) {
	ext, err := Extension(contentType)
	if err != nil {
		return "", err
	}
	newID := g.NewID
	if newID == nil {
		newID = uuid.New
	}
	return OwnerPrefix(ownerID) + newID().String() + ext, nil
}

// FuncGenerator allows callers to provide their own key generation function
type FuncGenerator struct {
	GenerateFunc func(ownerID int64, contentType string) (string, error)
}

func NewFuncGenerator(fn func(ownerID int64, contentType string) (string, error)) *FuncGenerator {
	return &FuncGenerator{GenerateFunc: fn}
}

func (g *FuncGenerator) GenerateKey(ownerID int64, contentType string) (string, error) {
	return g.GenerateFunc(ownerID, contentType)
}

// NormalizeContentType trims and lower-cases a declared content type.
func NormalizeContentType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Extension maps an allowed content type to its file extension.
func Extension(contentType string) (string, error) {
	ext, ok := extensions[NormalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return ext, nil
}

// Supported reports whether the content type is on the allow-list.
func Supported(contentType string) bool {
	_, ok := extensions[NormalizeContentType(contentType)]
	return ok
}

// OwnerPrefix returns the key prefix every key of the owner starts with.
func OwnerPrefix(ownerID int64) string {
	return Root + "/" + strconv.FormatInt(ownerID, 10) + "/"
}

// BelongsTo reports whether key lives under the owner's prefix.
// A bare prefix with nothing after it does not count.
func BelongsTo(key string, ownerID int64) bool {
	prefix := OwnerPrefix(ownerID)
	return len(key) > len(prefix) && strings.HasPrefix(key, prefix)
}
