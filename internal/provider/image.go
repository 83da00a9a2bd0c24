package provider

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotAnImage is returned when a reference file is not an image.
var ErrNotAnImage = errors.New("provider: reference file is not an image")

// Image is a reference image loaded from disk for an image-conditioned request.
type Image struct {
	Data     []byte
	MIMEType string
}

// LoadImage reads a local image and detects its MIME type from its content.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the run's reference pools
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", path, err)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return Image{}, fmt.Errorf("%w: %s is %s", ErrNotAnImage, path, mtype.String())
	}

	return Image{Data: data, MIMEType: mtype.String()}, nil
}

// Base64 returns the image bytes as standard base64.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the image as a data: URI.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}
