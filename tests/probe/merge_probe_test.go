package probe

import (
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/session"
	"github.com/ostin-pil/lesca/internal/types"
)

// TestMergePreferFresh is spec.md §8 scenario 6: merging an older source
// and a newer source with "prefer-fresh" keeps the newer source's value
// for a cookie both sources define.
func TestMergePreferFresh(t *testing.T) {
	store, err := session.NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := time.Now().UnixMilli()

	older, err := store.Create("older", types.Session{Cookies: []types.Cookie{{Name: "sh", Value: "v_old", Domain: "example.com"}}})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	older.Metadata.LastUsed = now - 10_000
	if err := store.Save("older", older); err != nil {
		t.Fatalf("save older: %v", err)
	}

	newer, err := store.Create("newer", types.Session{Cookies: []types.Cookie{{Name: "sh", Value: "v_new", Domain: "example.com"}}})
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}
	newer.Metadata.LastUsed = now
	if err := store.Save("newer", newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	merged, err := store.Merge([]string{"older", "newer"}, "out", types.MergePreferFresh)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	var found bool
	for _, c := range merged.Cookies {
		if c.Name == "sh" {
			found = true
			if c.Value != "v_new" {
				t.Errorf("merged sh cookie = %q, want v_new (the fresher source)", c.Value)
			}
		}
	}
	if !found {
		t.Fatal("merged session is missing the sh cookie entirely")
	}
}
