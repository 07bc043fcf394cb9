package script

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const fileMode = 0644

// Script is the single mutable script artifact a stage owns. Its Source is
// always the most recently attempted version; earlier versions are not kept.
type Script struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Path      string    `json:"path"`
	Source    string    `json:"-"`
	Version   int       `json:"version"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Create writes source to path and returns the version 1 script.
func Create(stage, path, source string) (*Script, error) {
	if path == "" {
		return nil, fmt.Errorf("script path is required")
	}
	s := &Script{
		ID:    uuid.NewString(),
		Stage: stage,
		Path:  path,
	}
	if err := s.write(source); err != nil {
		return nil, err
	}
	s.Version = 1
	return s, nil
}

// Load reads an existing script file as version 1.
func Load(stage, path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	source := string(data)
	return &Script{
		ID:        uuid.NewString(),
		Stage:     stage,
		Path:      path,
		Source:    source,
		Version:   1,
		Hash:      Hash(source),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Replace overwrites the script in place with a repaired version.
func (s *Script) Replace(source string) error {
	if err := s.write(source); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (s *Script) write(source string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(source), fileMode); err != nil {
		return fmt.Errorf("write script %s: %w", s.Path, err)
	}
	s.Source = source
	s.Hash = Hash(source)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Hash returns a short blake3 digest of content.
func Hash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
