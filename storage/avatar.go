package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/luma/chirp/protocol"
)

var ErrUnknownImageFormat = errors.New("Image data has no recognisable format signature")

// AvatarCache writes downloaded avatar and captcha images to disk so
// the host can display them. The file extension comes from sniffing
// the leading bytes; the bytes themselves are never interpreted.
type AvatarCache struct {
	root string
	log  *zap.Logger
}

func NewAvatarCache(root string, log *zap.Logger) (*AvatarCache, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("Failed to create avatar cache at %s: %w", root, err)
	}

	return &AvatarCache{root: root, log: log}, nil
}

// Put stores image bytes under name and returns the path written.
func (c *AvatarCache) Put(name string, data []byte) (string, error) {
	ext := protocol.SniffImageFormat(data)
	if ext == "" {
		c.log.Warn("Unknown image format", zap.String("name", name))
		return "", ErrUnknownImageFormat
	}

	path := filepath.Join(c.root, name+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}

	return path, nil
}
