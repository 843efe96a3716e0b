package storage

import (
	"fmt"
	"path"
	"strings"
)

// ImagePurpose selects the folder an uploaded image is stored under.
type ImagePurpose string

const (
	PurposeProduct ImagePurpose = "product"
	PurposeBanner  ImagePurpose = "banner"
)

var purposeFolders = map[ImagePurpose]string{
	PurposeProduct: "images/products",
	PurposeBanner:  "images/banners",
}

var contentTypeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ParsePurpose maps a request value onto a known purpose.
func ParsePurpose(raw string) (ImagePurpose, bool) {
	purpose := ImagePurpose(strings.ToLower(strings.TrimSpace(raw)))
	if purpose == "" {
		return PurposeProduct, true
	}
	_, ok := purposeFolders[purpose]
	return purpose, ok
}

// BuildObjectPath composes images/{folder}/{id}{ext}. The extension follows
// the content type, not the client file name.
func BuildObjectPath(purpose ImagePurpose, id, contentType string) (string, error) {
	folder, ok := purposeFolders[purpose]
	if !ok {
		return "", fmt.Errorf("storage: unsupported image purpose %q", purpose)
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("storage: invalid object id %q", id)
	}
	ext, ok := contentTypeExtensions[normalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContentTypeDenied, contentType)
	}
	return path.Join(folder, strings.ToLower(id)+ext), nil
}

// PublicURL returns the canonical delivery URL for an object.
func PublicURL(bucket, object string) string {
	return "https://storage.googleapis.com/" + strings.TrimSpace(bucket) + "/" + strings.TrimLeft(object, "/")
}

func normalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}
