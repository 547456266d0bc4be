// Package session implements the durable Session Store (spec.md §4.C) and
// its scheduled cleanup (§4.D): cookie/web-storage snapshots per named
// session, persisted as JSON files with atomic writes, corruption
// quarantine, and optional at-rest encryption.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ostin-pil/lesca/internal/security"
	"github.com/ostin-pil/lesca/internal/types"
)

// Store is the durable, file-backed session store. One mutex per session
// name guards that session's file read/write and lastUsed refresh;
// concurrent operations on different sessions proceed in parallel
// (spec.md §5).
type Store struct {
	dir       string
	encryptor *Encryptor // nil when at-rest encryption is disabled

	keyMu sync.Mutex // guards the per-key map itself, not the sessions
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at dir, creating the directory if
// necessary. encryptionKey, if non-empty, enables at-rest encryption via
// an Encryptor (see encryption.go).
func NewStore(dir string, encryptionKey string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
	if encryptionKey != "" {
		enc, err := NewEncryptor(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		s.encryptor = enc
	}
	return s, nil
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Create snapshots cookies and both web storages into a new Session and
// persists it. snapshot.Cookies must be supplied by the caller (browser
// inspection is an external collaborator per spec.md §1); storage
// snapshot failures are the caller's concern to report — Create itself
// only validates and writes.
func (s *Store) Create(name string, snapshot types.Session, opts ...CreateOption) (*types.Session, error) {
	sanitised := security.SanitizeSessionName(name)
	if sanitised == "" {
		return nil, fmt.Errorf("session name %q sanitises to empty: %w", name, types.ErrInvalidRequest)
	}

	nowMs := time.Now().UnixMilli()
	sess := snapshot
	sess.Name = sanitised
	if sess.Cookies == nil {
		sess.Cookies = []types.Cookie{}
	}
	sess.Metadata.Created = nowMs
	sess.Metadata.LastUsed = nowMs

	for _, opt := range opts {
		opt(&sess)
	}

	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	if err := s.writeAtomic(sanitised, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateOption customises a session at creation time (e.g. TTL, description).
type CreateOption func(*types.Session)

// WithExpiry sets metadata.expires to now+ttl.
func WithExpiry(ttl time.Duration) CreateOption {
	return func(s *types.Session) {
		exp := time.Now().Add(ttl).UnixMilli()
		s.Metadata.Expires = &exp
	}
}

// WithDescription sets metadata.description.
func WithDescription(desc string) CreateOption {
	return func(s *types.Session) { s.Metadata.Description = desc }
}

// Load reads and parses a session file. A missing file returns
// (nil, false, nil). An expired session is deleted and returns
// (nil, false, nil). A corrupt file is quarantined to
// "<file>.bak.<epoch_ms>" and returns (nil, false, nil) — the parse error
// itself never surfaces to the caller (spec.md §4.C, §7 CorruptData policy).
func (s *Store) Load(name string) (*types.Session, bool, error) {
	sanitised := security.SanitizeSessionName(name)
	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	sess, ok, err := s.loadLocked(sanitised)
	if err != nil || !ok {
		return nil, false, err
	}

	sess.Metadata.LastUsed = time.Now().UnixMilli()
	if err := s.writeAtomic(sanitised, sess); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Peek reads name's current stored state without Load's side effect of
// bumping Metadata.LastUsed to now. Callers that need a session's actual
// on-disk freshness (e.g. Merge's prefer-fresh ordering) must use this
// instead of Load, which would make every source look equally fresh.
func (s *Store) Peek(name string) (*types.Session, bool, error) {
	sanitised := security.SanitizeSessionName(name)
	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	return s.loadLocked(sanitised)
}

// loadLocked performs the read+parse+validate+quarantine dance without
// bumping lastUsed or rewriting the file. Callers must hold the per-name lock.
func (s *Store) loadLocked(sanitised string) (*types.Session, bool, error) {
	path := s.pathFor(sanitised)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	plaintext, err := s.decryptIfNeeded(raw)
	if err != nil {
		s.quarantine(path, raw)
		log.Warn().Str("session", sanitised).Err(err).Msg("session file undecryptable, quarantined")
		return nil, false, nil
	}

	var sess types.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		s.quarantine(path, raw)
		log.Warn().Str("session", sanitised).Err(err).Msg("session file unparsable, quarantined")
		return nil, false, nil
	}
	if !sess.Valid() {
		s.quarantine(path, raw)
		log.Warn().Str("session", sanitised).Msg("session file failed schema validation, quarantined")
		return nil, false, nil
	}

	nowMs := time.Now().UnixMilli()
	if sess.Expired(nowMs) {
		os.Remove(path)
		return nil, false, nil
	}

	return &sess, true, nil
}

func (s *Store) quarantine(path string, raw []byte) {
	backup := fmt.Sprintf("%s.bak.%d", path, time.Now().UnixMilli())
	if err := os.WriteFile(backup, raw, 0o600); err != nil {
		log.Warn().Str("path", backup).Err(err).Msg("failed to write quarantine backup")
	}
	os.Remove(path)
}

// Save atomically writes data under name, overwriting any existing file.
func (s *Store) Save(name string, data *types.Session) error {
	sanitised := security.SanitizeSessionName(name)
	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	data.Name = sanitised
	return s.writeAtomic(sanitised, data)
}

// writeAtomic serialises sess to JSON, optionally encrypts, writes to a
// temp file, then renames over the final path. Best-effort cleans up the
// temp file on any failure. Caller must hold the per-name lock.
func (s *Store) writeAtomic(sanitised string, sess *types.Session) error {
	path := s.pathFor(sanitised)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if s.encryptor != nil {
		payload, err = s.encryptor.Encrypt(payload)
		if err != nil {
			return err
		}
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

func (s *Store) decryptIfNeeded(raw []byte) ([]byte, error) {
	if s.encryptor == nil {
		if looksEncrypted(raw) {
			return nil, errors.New("session file is encrypted but no decryption key is configured")
		}
		return raw, nil
	}
	if !looksEncrypted(raw) {
		// Plaintext file read with encryption enabled: accept as-is so
		// toggling encryption on doesn't orphan pre-existing sessions.
		return raw, nil
	}
	return s.encryptor.Decrypt(raw)
}

// List enumerates all session names on disk, deleting (and skipping) any
// that have expired as a side effect.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		lock := s.lockFor(name)
		lock.Lock()
		sess, ok, _ := s.loadLocked(name)
		lock.Unlock()
		if !ok || sess == nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// ListActive returns sessions sorted by lastUsed descending.
func (s *Store) ListActive() ([]*types.Session, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(names))
	for _, name := range names {
		lock := s.lockFor(name)
		lock.Lock()
		sess, ok, _ := s.loadLocked(name)
		lock.Unlock()
		if ok {
			sessions = append(sessions, sess)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.LastUsed > sessions[j].Metadata.LastUsed
	})
	return sessions, nil
}

// Delete removes a session file. Returns false (no error) if it was
// already absent.
func (s *Store) Delete(name string) (bool, error) {
	sanitised := security.SanitizeSessionName(name)
	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(sanitised)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Rename moves session "old" to "new", rewriting the name field. Errors if
// old is absent or new already exists.
func (s *Store) Rename(oldName, newName string) error {
	oldSan := security.SanitizeSessionName(oldName)
	newSan := security.SanitizeSessionName(newName)

	// Lock ordering: always the lexicographically smaller name first, to
	// avoid deadlocking against a concurrent rename in the opposite direction.
	first, second := oldSan, newSan
	if second < first {
		first, second = second, first
	}
	lockFirst, lockSecond := s.lockFor(first), s.lockFor(second)
	lockFirst.Lock()
	defer lockFirst.Unlock()
	if lockSecond != lockFirst {
		lockSecond.Lock()
		defer lockSecond.Unlock()
	}

	sess, ok, err := s.loadLocked(oldSan)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrSessionNotFound
	}
	if _, newOk, _ := s.loadLocked(newSan); newOk {
		return types.ErrSessionAlreadyExists
	}

	sess.Name = newSan
	if err := s.writeAtomic(newSan, sess); err != nil {
		return err
	}
	return os.Remove(s.pathFor(oldSan))
}

// Validate reports whether a session is present, unexpired, has at least
// one cookie, and has metadata. An expired session is deleted as a side effect.
func (s *Store) Validate(name string) (bool, error) {
	sanitised := security.SanitizeSessionName(name)
	lock := s.lockFor(sanitised)
	lock.Lock()
	defer lock.Unlock()

	sess, ok, err := s.loadLocked(sanitised)
	if err != nil || !ok {
		return false, err
	}
	return len(sess.Cookies) >= 1 && sess.Metadata.Created > 0, nil
}

// CleanupExpired deletes every session whose metadata.expires has passed,
// returning the count removed.
func (s *Store) CleanupExpired() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	nowMs := time.Now().UnixMilli()
	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		lock := s.lockFor(name)
		lock.Lock()
		if s.removeIfExpiredLocked(name, nowMs) {
			count++
		}
		lock.Unlock()
	}
	return count, nil
}

// removeIfExpiredLocked reads name's metadata without loadLocked's
// auto-delete/quarantine side effects (which would make the caller's own
// count of expiries impossible to observe) and removes the file if it has
// expired, reporting whether it did so. Unreadable or unparsable files are
// left for Load/loadLocked's quarantine path to handle and are not counted
// here. Caller must hold name's lock.
func (s *Store) removeIfExpiredLocked(name string, nowMs int64) bool {
	path := s.pathFor(name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	plaintext, err := s.decryptIfNeeded(raw)
	if err != nil {
		return false
	}
	var sess types.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil || !sess.Expired(nowMs) {
		return false
	}
	return os.Remove(path) == nil
}
