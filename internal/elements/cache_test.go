package elements

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheWriteLoadPrune(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 2)

	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		data := []byte{byte('a' + i)}
		if err := c.Write(data, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("got %d cache files after prune, want 2", len(files))
	}

	data, ts, err := c.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(data) != "d" {
		t.Errorf("latest data = %q, want d", data)
	}
	if !ts.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("latest ts = %v, want %v", ts, base.Add(3*time.Hour))
	}
}

func TestCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"notes.txt", "elements_abc.csv", "tle_1700000000.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if _, _, err := NewCache(dir, 5).LoadLatest(); err == nil {
		t.Error("expected error when no element cache files exist")
	}
}

func TestCacheMissingDir(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "absent"), 0)
	if _, _, err := c.LoadLatest(); err == nil {
		t.Error("expected error for missing directory")
	}
}
