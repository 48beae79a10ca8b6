// Package instruction loads the system instruction that prefixes every
// completion request.
package instruction

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotFound means the instruction file does not exist. Callers treat it as
// a fatal configuration error.
var ErrNotFound = errors.New("instruction file not found")

type Source interface {
	Load() (string, error)
}

type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(ErrNotFound, "%s", s.Path)
		}
		return "", errors.Wrapf(err, "failed to read instruction file %s", s.Path)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Warn().Str("path", s.Path).Msg("instruction file is empty")
	}
	return text, nil
}
