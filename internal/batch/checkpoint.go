package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ostin-pil/lesca/internal/types"
)

// loadCheckpoint reads and parses the progress file at path. A missing
// file is not an error: it just means there is nothing to resume from.
func loadCheckpoint(path string) (types.BatchCheckpoint, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.BatchCheckpoint{}, false, nil
		}
		return types.BatchCheckpoint{}, false, err
	}
	var cp types.BatchCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return types.BatchCheckpoint{}, false, fmt.Errorf("batch: corrupt checkpoint file %s: %w", path, err)
	}
	return cp, true, nil
}

// saveCheckpoint writes cp to path atomically via temp-file-then-rename,
// matching the session store's own writeAtomic idiom (internal/session/store.go).
func saveCheckpoint(path string, cp types.BatchCheckpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d.%d", path, time.Now().UnixNano(), rand.Int63())
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// removeCheckpoint deletes the progress file on full completion. Missing
// file is not an error.
func removeCheckpoint(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
