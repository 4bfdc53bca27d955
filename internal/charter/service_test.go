package charter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestCharterLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := Document{
		CharterText:   "We exist to build neighborhood wealth.",
		ConfigVersion: 1,
		UpdatedBy:     "wallet-admin",
	}
	commit, err := svc.Record("coop-1", first, "wallet-admin", "Initial charter (config v1)")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "coop-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second := Document{
		CharterText:   "We exist to build neighborhood wealth, sustainably.",
		ConfigVersion: 2,
		UpdatedBy:     "wallet-admin",
	}
	if _, err := svc.Record("coop-1", second, "wallet-admin", "Amend charter (config v2)"); err != nil {
		t.Fatalf("Record() second error = %v", err)
	}

	head, headCommit, err := svc.Head("coop-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.ConfigVersion != 2 {
		t.Fatalf("head config version = %d, want 2", head.ConfigVersion)
	}
	if !strings.Contains(headCommit.Message, "config v2") {
		t.Fatalf("unexpected head commit message: %q", headCommit.Message)
	}

	history, err := svc.History("coop-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}

	old, err := svc.At("coop-1", commit.Hash)
	if err != nil {
		t.Fatalf("At() error = %v", err)
	}
	if old.CharterText != first.CharterText {
		t.Fatalf("unexpected charter at first commit: %+v", old)
	}
}

func TestRecordSameTextSkipsCommit(t *testing.T) {
	svc := New(t.TempDir())

	doc := Document{CharterText: "Text", ConfigVersion: 1, UpdatedBy: "wallet-admin"}
	if _, err := svc.Record("coop-1", doc, "wallet-admin", "Initial charter"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := svc.Record("coop-1", doc, "wallet-admin", "No-op"); err != nil {
		t.Fatalf("Record() repeat error = %v", err)
	}

	history, err := svc.History("coop-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 commit after identical re-record, got %d", len(history))
	}
}

func TestHistoryForUnknownCoop(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("coop-missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestConcurrentRecordSameCoop(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.Record("coop-1", Document{CharterText: "base", ConfigVersion: 1, UpdatedBy: "wallet-admin"}, "wallet-admin", "Initial charter"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			doc := Document{
				CharterText:   fmt.Sprintf("charter revision %02d", idx),
				ConfigVersion: idx + 2,
				UpdatedBy:     "wallet-admin",
			}
			if _, err := svc.Record("coop-1", doc, "wallet-admin", fmt.Sprintf("Amend %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Record() concurrent error = %v", err)
		}
	}

	history, err := svc.History("coop-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits, got %d", writers+1, len(history))
	}

	head, _, err := svc.Head("coop-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if !strings.HasPrefix(head.CharterText, "charter revision ") {
		t.Fatalf("unexpected head after concurrent records: %+v", head)
	}
}
