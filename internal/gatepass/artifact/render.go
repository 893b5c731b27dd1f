// Package artifact renders downloadable pass artifacts in the background.
// Rendering runs after approval has committed and never affects the pass.
package artifact

import (
	"context"
	"errors"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
)

// Task is one rendering job.  Token and Code are opaque to the renderer.
type Task struct {
	PassID string
	Token  string
	Code   string
}

// Renderer turns a task into one artifact.
type Renderer interface {
	Render(ctx context.Context, t Task) (store.ArtifactRecord, error)
}

// QRRenderer encodes the signed token as a PNG QR code.
type QRRenderer struct {
	// Size is the image edge in pixels.  Defaults to 256.
	Size int
}

func (r QRRenderer) Render(_ context.Context, t Task) (store.ArtifactRecord, error) {
	if t.Token == "" {
		return store.ArtifactRecord{}, errors.New("render QR: empty token")
	}
	size := r.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(t.Token, qrcode.Medium, size)
	if err != nil {
		return store.ArtifactRecord{}, err
	}
	return store.ArtifactRecord{
		PassID:      t.PassID,
		Kind:        store.ArtifactQR,
		ContentType: "image/png",
		Data:        png,
	}, nil
}
