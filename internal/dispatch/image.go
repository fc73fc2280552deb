package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/spf13/afero"
)

// ImageProvider captures a picture to attach to a command
type ImageProvider interface {
	Capture(ctx context.Context) (string, error)
}

// FileImageProvider serves the latest snapshot written to a file by an
// external camera process
type FileImageProvider struct {
	fs   afero.Fs
	path string
}

// NewFileImageProvider creates a provider reading path from fs
func NewFileImageProvider(fs afero.Fs, path string) (*FileImageProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path cannot be empty")
	}
	return &FileImageProvider{fs: fs, path: path}, nil
}

// Capture returns the snapshot base64 encoded
func (p *FileImageProvider) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot: %w", err)
	}

	if len(data) == 0 {
		return "", fmt.Errorf("snapshot %s is empty", p.path)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
