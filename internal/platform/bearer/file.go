package bearer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var ErrNoToken = errors.New("token file is empty")

// FileToken is a token source backed by a file that another process rotates.
// The directory is watched so that atomic replace-by-rename is picked up too.
type FileToken struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	token string
}

// WatchFile reads path and keeps the token current until Close.
func WatchFile(path string) (*FileToken, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("token file path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	token, err := readToken(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	f := &FileToken{path: path, watcher: watcher, done: make(chan struct{}), token: token}
	go f.watchLoop()
	return f, nil
}

func (f *FileToken) Token(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token, nil
}

func (f *FileToken) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.watcher.Close()
	})
	return err
}

func readToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("read token file %s: %w", path, ErrNoToken)
	}
	return token, nil
}

func (f *FileToken) watchLoop() {
	l := log.With().Str("component", "token_file").Str("path", f.path).Logger()
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// A writer that truncates first produces an empty read; the
			// following write event carries the new token.
			token, err := readToken(f.path)
			if err != nil {
				l.Debug().Err(err).Msg("Token reload skipped, keeping previous token")
				continue
			}
			f.mu.Lock()
			f.token = token
			f.mu.Unlock()
			l.Debug().Msg("Token reloaded")
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			l.Warn().Err(err).Msg("Token watcher error")
		}
	}
}
