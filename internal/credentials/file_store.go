package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
)

// fileState is the on-disk layout of a FileStore.
type fileState struct {
	Strings map[string]string `json:"strings,omitempty"`
	Ints    map[string]int64  `json:"ints,omitempty"`
}

// FileStore implements Store on top of a single JSON file.
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

// NewFileStore creates a file-backed store. An empty path selects
// ~/.frollo/credentials.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".frollo", "credentials.json")
	}
	return &FileStore{filePath: path}, nil
}

// load reads the file. A missing file is an empty store.
func (f *FileStore) load() (*fileState, error) {
	state := &fileState{}
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("failed to parse credentials file: %w", err)
		}
	}
	return state, nil
}

// save writes the file through a temporary sibling and a rename so readers
// never observe a partial write.
func (f *FileStore) save(state *fileState) error {
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials: %w", err)
	}
	if err := os.Rename(tmpName, f.filePath); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", f.filePath, err)
	}

	logger.Get().Debug().Str("path", f.filePath).Msg("Saved credentials file")
	return nil
}

func (f *FileStore) update(mutate func(s *fileState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return err
	}
	if state.Strings == nil {
		state.Strings = make(map[string]string)
	}
	if state.Ints == nil {
		state.Ints = make(map[string]int64)
	}
	mutate(state)
	return f.save(state)
}

func (f *FileStore) GetString(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := state.Strings[key]
	return v, ok, nil
}

func (f *FileStore) SetString(_ context.Context, key, value string) error {
	return f.update(func(s *fileState) { s.Strings[key] = value })
}

func (f *FileStore) GetInt64(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return 0, false, err
	}
	v, ok := state.Ints[key]
	return v, ok, nil
}

func (f *FileStore) SetInt64(_ context.Context, key string, value int64) error {
	return f.update(func(s *fileState) { s.Ints[key] = value })
}

func (f *FileStore) Remove(_ context.Context, keys ...string) error {
	return f.update(func(s *fileState) {
		for _, k := range keys {
			delete(s.Strings, k)
			delete(s.Ints, k)
		}
	})
}

// Name returns the provider name
func (f *FileStore) Name() string {
	return fmt.Sprintf("FileStore(%s)", f.filePath)
}
