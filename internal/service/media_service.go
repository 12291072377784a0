package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carelink/internal/model"
)

// MediaService stores uploaded chat media on disk and hands back attachment
// descriptors for embedding in messages.
type MediaService struct {
	dir string
	log zerolog.Logger
}

// NewMediaService creates a media service rooted at dir, creating it if
// missing.
func NewMediaService(dir string, log zerolog.Logger) (*MediaService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &MediaService{
		dir: dir,
		log: log.With().Str("service", "media").Logger(),
	}, nil
}

// Save writes the upload to disk under a generated name and returns its
// attachment descriptor. The original filename survives only as metadata.
func (s *MediaService) Save(file multipart.File, header *multipart.FileHeader) (*model.Attachment, error) {
	ext := filepath.Ext(header.Filename)
	name := uuid.New().String() + ext
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	s.log.Info().Str("file", name).Str("original", header.Filename).Msg("media stored")
	return &model.Attachment{
		ResourceType: resourceType(ext),
		URL:          "/media/" + name,
		OriginalName: header.Filename,
	}, nil
}

func resourceType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".webm", ".mov":
		return "video"
	default:
		return "file"
	}
}
