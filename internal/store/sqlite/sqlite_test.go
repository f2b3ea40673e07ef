package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger", "state.sqlite")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(ctx, "players", "p1", []byte(`{"health":80}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "players", "p1", []byte(`{"health":90}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	if err := s.Put(ctx, "guilds", "g1", []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	v, ok, err := s.Get(ctx, "players", "p1")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if string(v) != `{"health":90}` {
		t.Fatalf("unexpected value %s", v)
	}
	nss, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	if len(nss) != 2 || nss[0] != "guilds" || nss[1] != "players" {
		t.Fatalf("unexpected namespaces %v", nss)
	}
}

func TestStore_DeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "s.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"b", "a", "c"} {
		if err := s.Put(ctx, "seen_facts", k, []byte("1")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Delete(ctx, "seen_facts", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "seen_facts", "zz"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	keys, err := s.Keys(ctx, "seen_facts")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if _, ok, err := s.Get(ctx, "seen_facts", "b"); err != nil || ok {
		t.Fatalf("expected deleted key absent, ok=%v err=%v", ok, err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
