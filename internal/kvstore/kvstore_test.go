package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sq, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "state", "manicctl-test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}
			if err := s.Put(ctx, "panel.base_url", []byte(`"http://x"`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "panel.base_url", []byte(`"http://y"`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, err := s.Get(ctx, "panel.base_url")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `"http://y"` {
				t.Errorf("Get = %s, want overwritten value", got)
			}
			if err := s.Delete(ctx, "panel.base_url"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "panel.base_url"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"lanes", "scope.ledger", "scope.contract", "telemetry"} {
				if err := s.Put(ctx, k, []byte("1")); err != nil {
					t.Fatal(err)
				}
			}
			got, err := s.Keys(ctx, "scope.")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{"scope.contract", "scope.ledger"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Keys(scope.) = %v, want %v", got, want)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	type doc struct {
		Cycles  int      `json:"cycles"`
		Targets []string `json:"targets"`
	}
	in := doc{Cycles: 2, Targets: []string{"a", "b"}}
	if err := PutJSON(ctx, s, "doc", in); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	var out doc
	if err := GetJSON(ctx, s, "doc", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("GetJSON = %+v, want %+v", out, in)
	}
	if err := GetJSON(ctx, s, "nope", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON(nope) err = %v, want ErrNotFound", err)
	}
	_ = s.Put(ctx, "bad", []byte("{"))
	if err := GetJSON(ctx, s, "bad", &out); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON(bad) err = %v, want decode error", err)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}
