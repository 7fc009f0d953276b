package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/gabriel-vasile/mimetype"
)

// SelectFile describes the regular file at path as a [models.FileAsset].
//
// When mimeType is empty the content type is sniffed from the file's leading bytes.
func SelectFile(path, mimeType string) (*models.FileAsset, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path", shared.ErrMissingArgument)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", shared.ErrInvalidInput, path)
	}

	if mimeType == "" {
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to detect content type: %w", err)
		}
		mimeType = mt.String()
	}

	return &models.FileAsset{
		Name:     filepath.Base(path),
		Path:     path,
		ByteSize: info.Size(),
		MimeType: mimeType,
	}, nil
}
