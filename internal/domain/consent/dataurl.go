package consent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
)

const pngDataURLPrefix = "data:image/png;base64,"

// DecodePNGDataURL decodes a data:image/png;base64 URL and checks that the
// payload is a PNG image.
func DecodePNGDataURL(s string) ([]byte, error) {
	if !strings.HasPrefix(s, pngDataURLPrefix) {
		return nil, ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, pngDataURLPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return raw, nil
}

// EncodePNGDataURL is the inverse of DecodePNGDataURL.
func EncodePNGDataURL(raw []byte) string {
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(raw)
}
