// Package mimetype canonicalizes content types before they are embedded in data URIs.
package mimetype

import (
	"encoding/base64"
	"strings"
)

// DefaultImage is used whenever a content type is missing or is not an image type.
const DefaultImage = "image/png"

// Normalize returns a lowercase image/* MIME type without parameters.
// Anything that is not an image type collapses to DefaultImage so a data URI
// never advertises non-image content.
func Normalize(raw string) string {
	if raw == "" {
		return DefaultImage
	}

	mimeType, _, _ := strings.Cut(raw, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.HasPrefix(mimeType, "image/") {
		return DefaultImage
	}

	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

// DataURI encodes data as a base64 data URI with a normalized image MIME type.
func DataURI(data []byte, rawMIME string) string {
	return "data:" + Normalize(rawMIME) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
