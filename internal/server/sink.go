package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

// maxInlineFile bounds file contents returned inline in a response.
const maxInlineFile = 1 << 20

type deliveredFile struct {
	Name    string `json:"name"`
	Mime    string `json:"mime"`
	Caption string `json:"caption"`
	Content string `json:"content"`
}

// collectSink buffers a run's output for a single JSON response. Files are
// read immediately since the run removes them when it ends.
type collectSink struct {
	mu       sync.Mutex
	progress []string
	messages []string
	files    []deliveredFile
}

func (s *collectSink) Progress(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, text)
	return nil
}

func (s *collectSink) Text(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *collectSink) File(_ context.Context, path, mime, caption string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat delivered file: %w", err)
	}
	if st.Size() > maxInlineFile {
		return fmt.Errorf("delivered file %s too large to inline (%d bytes)", filepath.Base(path), st.Size())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read delivered file: %w", err)
	}
	if !utf8.Valid(body) {
		return fmt.Errorf("delivered file %s is not text", filepath.Base(path))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, deliveredFile{Name: filepath.Base(path), Mime: mime, Caption: caption, Content: string(body)})
	return nil
}
