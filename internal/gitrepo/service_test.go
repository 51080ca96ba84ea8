package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestProfileHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.Record("usr_1", []byte(`{"sections":{"link":[]}}`), "Avery", "Publish profile")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Avery" {
		t.Fatalf("unexpected commit %+v", first)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "usr_1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second, err := svc.Record("usr_1", []byte(`{"sections":{"link":[{"id":"lnk_1"}]}}`), "Avery", "Publish profile")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("expected a new commit for changed content")
	}

	history, err := svc.History("usr_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history %+v", history)
	}

	old, err := svc.Read("usr_1", first.Hash)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(old) != "{\"sections\":{\"link\":[]}}\n" {
		t.Fatalf("unexpected content %q", old)
	}
}

func TestRecordUnchangedProfileKeepsHead(t *testing.T) {
	svc := New(t.TempDir())
	payload := []byte(`{"sections":{}}`)
	first, err := svc.Record("usr_1", payload, "Avery", "Publish profile")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	again, err := svc.Record("usr_1", payload, "Avery", "Publish profile")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if again.Hash != first.Hash {
		t.Fatalf("expected head %s, got %s", first.Hash, again.Hash)
	}
	history, _ := svc.History("usr_1", 0)
	if len(history) != 1 {
		t.Fatalf("expected one commit, got %d", len(history))
	}
}

func TestHistoryOfUnknownUserIsEmpty(t *testing.T) {
	history, err := New(t.TempDir()).History("usr_never", 5)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %v %v", history, err)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 0; i < 4; i++ {
		if _, err := svc.Record("usr_1", []byte(fmt.Sprintf(`{"n":%d}`, i)), "Avery", "Publish profile"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	history, err := svc.History("usr_1", 2)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected 2 commits, got %v %v", history, err)
	}
}

func TestConcurrentRecordsAcrossUsers(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("usr_%d", i%2)
			if _, err := svc.Record(user, []byte(fmt.Sprintf(`{"n":%d}`, i)), "Avery", "Publish profile"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Record() error = %v", err)
	}
	for _, user := range []string{"usr_0", "usr_1"} {
		history, err := svc.History(user, 0)
		if err != nil || len(history) != 4 {
			t.Fatalf("%s: expected 4 commits, got %d %v", user, len(history), err)
		}
	}
}

func TestSanitizeEmail(t *testing.T) {
	tests := map[string]string{
		"Ada Lovelace": "Ada.Lovelace",
		"dev_ops-team": "dev.ops.team",
		"@@@":          "user",
	}
	for in, want := range tests {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
