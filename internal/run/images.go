package run

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/scenechain/internal/storage"
)

// ErrInvalidImage is returned when a reference image payload is not a
// base64-encoded image.
var ErrInvalidImage = errors.New("run: invalid reference image")

// decodeImage accepts raw base64 or a data URI and returns the image bytes
// and detected MIME type.
func decodeImage(payload string) ([]byte, *mimetype.MIME, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.Contains(payload[:comma], ";base64") {
			return nil, nil, fmt.Errorf("%w: malformed data URI", ErrInvalidImage)
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, nil, fmt.Errorf("%w: detected %s", ErrInvalidImage, mtype.String())
	}
	return data, mtype, nil
}

// saveImages decodes each payload and stores it as a temp file named
// <runID>_<kind>_<i><ext>. On error, files already written are removed.
func saveImages(ctx context.Context, store storage.Storage, runID, kind string, payloads []string) ([]string, error) {
	paths := make([]string, 0, len(payloads))
	for i, p := range payloads {
		data, mtype, err := decodeImage(p)
		if err != nil {
			_ = store.CleanupTemp(ctx, paths)
			return nil, fmt.Errorf("%s image %d: %w", kind, i, err)
		}

		name := fmt.Sprintf("%s_%s_%d%s", runID, kind, i, mtype.Extension())
		path, err := store.SaveTemp(ctx, name, bytes.NewReader(data))
		if err != nil {
			_ = store.CleanupTemp(ctx, paths)
			return nil, fmt.Errorf("save %s image %d: %w", kind, i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
