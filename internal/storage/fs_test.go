package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestFSAdapter_ReadWriteDelete covers the basic file lifecycle, including
// parent directory creation and the missing-file sentinels.
func TestFSAdapter_ReadWriteDelete(t *testing.T) {
	a := NewFSAdapter()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "board.json")

	if _, err := a.ReadFile(path); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile missing = %v, want ErrNotFound", err)
	}

	if err := a.WriteFile(path, []byte(`{"id":"b1"}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := a.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"id":"b1"}` {
		t.Errorf("ReadFile = %q", data)
	}

	if err := a.DeleteFile(path); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := a.ReadFile(path); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is not an error.
	if err := a.DeleteFile(path); err != nil {
		t.Errorf("second DeleteFile: %v", err)
	}
}

// TestFSAdapter_ListDir returns file names only, and an empty listing for
// a missing directory.
func TestFSAdapter_ListDir(t *testing.T) {
	a := NewFSAdapter()
	dir := t.TempDir()

	for _, name := range []string{"a.json", "b.json"} {
		if err := a.WriteFile(filepath.Join(dir, name), []byte("{}")); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	names, err := a.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("ListDir = %v, want the two files without the subdir", names)
	}

	names, err = a.ListDir(filepath.Join(dir, "absent"))
	if err != nil {
		t.Fatalf("ListDir missing dir: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("ListDir missing dir = %v, want empty", names)
	}
}

// TestFSAdapter_Watch delivers create, modify, and delete events for JSON
// files and ignores other extensions.
func TestFSAdapter_Watch(t *testing.T) {
	a := NewFSAdapter()
	dir := t.TempDir()

	events, err := a.Watch(dir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer a.Close()

	if err := a.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := a.WriteFile(filepath.Join(dir, "b1.json"), []byte("{}")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Name != "b1.json" {
		t.Errorf("event for %q, the .txt write should have been filtered", ev.Name)
	}
	if ev.Op != OpCreate && ev.Op != OpModify {
		t.Errorf("Op = %v, want create or modify", ev.Op)
	}

	if err := a.DeleteFile(filepath.Join(dir, "b1.json")); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	for {
		ev = waitEvent(t, events)
		if ev.Op == OpDelete {
			break
		}
	}
	if ev.Name != "b1.json" {
		t.Errorf("delete event for %q", ev.Name)
	}
}

// TestFSAdapter_WatchTwice rejects a second concurrent watch.
func TestFSAdapter_WatchTwice(t *testing.T) {
	a := NewFSAdapter()
	dir := t.TempDir()
	if _, err := a.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer a.Close()
	if _, err := a.Watch(dir); err == nil {
		t.Error("second Watch accepted")
	}
}

// TestFSAdapter_Close closes the event channel and is safe without a watch.
func TestFSAdapter_Close(t *testing.T) {
	a := NewFSAdapter()
	if err := a.Close(); err != nil {
		t.Errorf("Close without watch: %v", err)
	}

	b := NewFSAdapter()
	events, err := b.Watch(t.TempDir())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, open := <-events:
		if open {
			t.Error("event channel delivered after Close")
		}
	case <-time.After(time.Second):
		t.Error("event channel not closed")
	}
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}
