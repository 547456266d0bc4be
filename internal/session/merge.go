package session

import (
	"fmt"
	"sort"

	"github.com/ostin-pil/lesca/internal/types"
)

// Merge combines the named source sessions into target according to
// strategy and persists the result, creating target if it does not
// already exist. Source sessions are left untouched.
func (s *Store) Merge(sourceNames []string, targetName string, strategy types.MergeStrategy) (*types.Session, error) {
	if len(sourceNames) == 0 {
		return nil, fmt.Errorf("merge requires at least one source session: %w", types.ErrInvalidRequest)
	}

	// Sources are read via Peek, not Load: Load bumps Metadata.LastUsed to
	// now on every read, which would make every source look equally fresh
	// and silently degenerate mergePreferFresh's ascending-lastUsed sort
	// into source-argument order.
	sources := make([]*types.Session, 0, len(sourceNames))
	for _, name := range sourceNames {
		sess, ok, err := s.Peek(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("merge source %q: %w", name, types.ErrSessionNotFound)
		}
		sources = append(sources, sess)
	}

	existing, ok, err := s.Peek(targetName)
	if err != nil {
		return nil, err
	}

	var base types.Session
	if ok {
		base = *existing
	} else {
		base = types.Session{
			Cookies:        []types.Cookie{},
			LocalStorage:   map[string]string{},
			SessionStorage: map[string]string{},
		}
	}

	switch strategy {
	case types.MergeKeepExisting:
		mergeKeepExisting(&base, sources)
	case types.MergePreferFresh:
		mergePreferFresh(&base, sources, ok)
	default: // types.MergeAll and unrecognised fall back to merge-all
		mergeAll(&base, sources)
	}

	if err := s.Save(targetName, &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// mergeKeepExisting: target's own cookies/storage entries win on key
// collision; anything only present in a source is added.
func mergeKeepExisting(target *types.Session, sources []*types.Session) {
	existingCookies := make(map[string]bool, len(target.Cookies))
	for _, c := range target.Cookies {
		existingCookies[cookieKey(c)] = true
	}
	if target.LocalStorage == nil {
		target.LocalStorage = map[string]string{}
	}
	if target.SessionStorage == nil {
		target.SessionStorage = map[string]string{}
	}

	for _, src := range sources {
		for _, c := range src.Cookies {
			if !existingCookies[cookieKey(c)] {
				target.Cookies = append(target.Cookies, c)
				existingCookies[cookieKey(c)] = true
			}
		}
		for k, v := range src.LocalStorage {
			if _, exists := target.LocalStorage[k]; !exists {
				target.LocalStorage[k] = v
			}
		}
		for k, v := range src.SessionStorage {
			if _, exists := target.SessionStorage[k]; !exists {
				target.SessionStorage[k] = v
			}
		}
	}
}

// mergePreferFresh: target and all sources are ordered by lastUsed
// ascending and overlaid in that order, so the freshest session's values
// win regardless of whether it was the target or a source.
func mergePreferFresh(target *types.Session, sources []*types.Session, targetExisted bool) {
	all := make([]*types.Session, 0, len(sources)+1)
	if targetExisted {
		cp := *target
		all = append(all, &cp)
	}
	all = append(all, sources...)

	sort.Slice(all, func(i, j int) bool {
		return all[i].Metadata.LastUsed < all[j].Metadata.LastUsed
	})

	target.Cookies = nil
	target.LocalStorage = map[string]string{}
	target.SessionStorage = map[string]string{}
	mergeAll(target, all)
}

// mergeAll: overlay every session in order, last writer wins per key.
func mergeAll(target *types.Session, sources []*types.Session) {
	cookies := make(map[string]types.Cookie, len(target.Cookies))
	order := make([]string, 0, len(target.Cookies))
	for _, c := range target.Cookies {
		k := cookieKey(c)
		if _, exists := cookies[k]; !exists {
			order = append(order, k)
		}
		cookies[k] = c
	}
	if target.LocalStorage == nil {
		target.LocalStorage = map[string]string{}
	}
	if target.SessionStorage == nil {
		target.SessionStorage = map[string]string{}
	}

	for _, src := range sources {
		for _, c := range src.Cookies {
			k := cookieKey(c)
			if _, exists := cookies[k]; !exists {
				order = append(order, k)
			}
			cookies[k] = c
		}
		for k, v := range src.LocalStorage {
			target.LocalStorage[k] = v
		}
		for k, v := range src.SessionStorage {
			target.SessionStorage[k] = v
		}
		if src.Metadata.LastUsed > target.Metadata.LastUsed {
			target.Metadata.LastUsed = src.Metadata.LastUsed
		}
	}

	merged := make([]types.Cookie, 0, len(order))
	for _, k := range order {
		merged = append(merged, cookies[k])
	}
	target.Cookies = merged
}

func cookieKey(c types.Cookie) string {
	return c.Domain + "|" + c.Path + "|" + c.Name
}
