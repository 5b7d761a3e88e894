// Package images checks review and profile images and stores them with one
// of several providers.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBytes is the upload ceiling when none is configured.
const DefaultMaxBytes = 5 << 20

const (
	MsgTooLarge    = "이미지 크기는 5MB 이하여야 합니다."
	MsgUnsupported = "JPG, PNG, GIF, WEBP 형식의 이미지만 업로드할 수 있습니다."
	MsgUploadFail  = "이미지 업로드에 실패했습니다."
)

var (
	ErrTooLarge    = errors.New("image exceeds size limit")
	ErrUnsupported = errors.New("unsupported image type")
	ErrEmpty       = errors.New("empty image")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Image struct {
	Data        []byte
	ContentType string
	// UserID is forwarded to providers that namespace uploads per user.
	UserID string
}

func (img Image) Extension() string {
	return extensions[img.ContentType]
}

// DataURL is the inline transport form of the image.
func (img Image) DataURL() string {
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Read loads at most maxBytes from r and sniffs the content type. The
// declared type from the client is ignored.
func Read(r io.Reader, maxBytes int64) (Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	if int64(len(data)) > maxBytes {
		return Image{}, ErrTooLarge
	}
	ct := http.DetectContentType(data)
	if _, ok := extensions[ct]; !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
	return Image{Data: data, ContentType: ct}, nil
}

// ParseDataURL accepts "data:<type>;base64,<payload>" and applies the same
// checks as Read.
func ParseDataURL(s string, maxBytes int64) (Image, error) {
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(meta, "data:") || !strings.HasSuffix(meta, ";base64") {
		return Image{}, fmt.Errorf("%w: not a base64 data url", ErrUnsupported)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data url: %w", err)
	}
	return Read(bytes.NewReader(raw), maxBytes)
}

// Message maps a Read or Store error to the text shown on the form.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooLarge):
		return MsgTooLarge
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrEmpty):
		return MsgUnsupported
	}
	return MsgUploadFail
}

// Store persists an image and returns the URL (or data URL) to attach to
// the review or profile.
type Store interface {
	Put(ctx context.Context, img Image) (string, error)
}

// Inline embeds the image into the payload itself.
type Inline struct{}

func (Inline) Put(_ context.Context, img Image) (string, error) {
	return img.DataURL(), nil
}

type Uploader interface {
	UploadImage(ctx context.Context, dataURL, userID string) (string, error)
}

// BackendUpload sends the image out of band to the REST backend's upload endpoint.
type BackendUpload struct {
	Uploader Uploader
}

func (b BackendUpload) Put(ctx context.Context, img Image) (string, error) {
	u, err := b.Uploader.UploadImage(ctx, img.DataURL(), img.UserID)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return u, nil
}
