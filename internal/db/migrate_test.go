package db

import (
	"testing"
	"testing/fstest"
)

func TestUpMigrationsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_provider_messages.up.sql": {Data: []byte("SELECT 2")},
		"0001_init.up.sql":              {Data: []byte("SELECT 1")},
		"0001_init.down.sql":            {Data: []byte("SELECT 0")},
		"README.md":                     {Data: []byte("notes")},
		"archive/0000_legacy.up.sql":    {Data: []byte("SELECT -1")},
		"0010_broadcast_indexes.up.sql": {Data: []byte("SELECT 10")},
	}

	got, err := upMigrations(fsys)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	want := []string{"0001_init.up.sql", "0002_provider_messages.up.sql", "0010_broadcast_indexes.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
