// Package checkpoint persists pagination progress so interrupted
// exports can resume. The wire form matches what the pager's progress
// callback emits; a Store's Save method can be registered directly as
// that callback.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Checkpoint is one snapshot of pagination progress.
type Checkpoint struct {
	// NextPage is the next skip-mode page index, when skip paging.
	NextPage *int `json:"next_page,omitempty"`

	// NextMark is the next opaque cursor, when mark paging.
	NextMark string `json:"next_mark,omitempty"`

	PagesCompleted int  `json:"pages_completed"`
	AssetsEmitted  int  `json:"assets_emitted"`
	TotalElements  *int `json:"total_elements,omitempty"`
	Last           bool `json:"last"`
}

// Resume is the starting position extracted from a checkpoint or a
// user-supplied resume token.
type Resume struct {
	Page    int
	HasPage bool
	Mark    string
}

// ResumePoint converts the checkpoint into a pager starting position.
func (c *Checkpoint) ResumePoint() Resume {
	var r Resume
	if c.NextPage != nil {
		r.Page, r.HasPage = *c.NextPage, true
	}
	if c.NextMark != "" {
		r.Mark = c.NextMark
	}
	return r
}

// ParseResume parses a resume argument. Accepted forms:
//   - integer page number (skip paging): "25"
//   - mark token: "mark:<token>" or a bare non-integer token
//   - a JSON checkpoint object
func ParseResume(raw string) (Resume, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resume{}, nil
	}

	if strings.HasPrefix(raw, "{") {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return Resume{}, fmt.Errorf("invalid checkpoint json: %w", err)
		}
		r := cp.ResumePoint()
		if !r.HasPage && r.Mark == "" {
			return Resume{}, fmt.Errorf("checkpoint did not contain next_page or next_mark")
		}
		return r, nil
	}

	if len(raw) >= 5 && strings.EqualFold(raw[:5], "mark:") {
		mark := strings.TrimSpace(raw[5:])
		if mark == "" {
			return Resume{}, fmt.Errorf("empty mark token")
		}
		return Resume{Mark: mark}, nil
	}

	if page, err := strconv.Atoi(raw); err == nil {
		if page < 0 {
			page = 0
		}
		return Resume{Page: page, HasPage: true}, nil
	}

	// Non-integer values are opaque mark/cursor tokens.
	return Resume{Mark: raw}, nil
}

// Store persists checkpoints. Save matches the pager progress callback
// signature.
type Store interface {
	Save(cp Checkpoint) error
	Load() (*Checkpoint, error)
}

// FileStore persists the JSON form atomically (temp file + rename) so a
// crash mid-write never corrupts the previous checkpoint.
type FileStore struct {
	Path string
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes the checkpoint atomically.
func (s *FileStore) Save(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the last saved checkpoint, or nil when none exists.
func (s *FileStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}
