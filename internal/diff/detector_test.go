package diff

import (
	"testing"
	"time"

	"docsync/internal/scanner"
	"docsync/internal/storage"
)

func scanned(path, hash string) scanner.ScannedFile {
	return scanner.ScannedFile{RelPath: path, Hash: hash}
}

func record(path, hash, status string) storage.FileRecord {
	return storage.FileRecord{
		ID:         "id-" + path,
		TenantID:   "acme",
		FilePath:   path,
		FileHash:   hash,
		SyncStatus: status,
	}
}

func TestDetect_Classification(t *testing.T) {
	now := time.Now().UTC()
	softDeleted := record("gone.md", "h4", storage.FileStatusDeleted)
	softDeleted.DeletedAt = &now
	resurrected := record("back.md", "h5", storage.FileStatusDeleted)
	resurrected.DeletedAt = &now

	scan := []scanner.ScannedFile{
		scanned("new.md", "h1"),
		scanned("same.md", "h2"),
		scanned("edited.md", "h3-new"),
		scanned("back.md", "h5"),
	}
	prior := []storage.FileRecord{
		record("same.md", "h2", storage.FileStatusSynced),
		record("edited.md", "h3-old", storage.FileStatusSynced),
		record("removed.md", "h6", storage.FileStatusSynced),
		softDeleted,
		resurrected,
	}

	ch := Detect(scan, prior, false)

	if len(ch.Added) != 2 {
		t.Fatalf("Added = %d, want 2 (new file + resurrection)", len(ch.Added))
	}
	addedPaths := map[string]bool{}
	for _, f := range ch.Added {
		addedPaths[f.RelPath] = true
	}
	if !addedPaths["new.md"] || !addedPaths["back.md"] {
		t.Errorf("Added paths = %v", addedPaths)
	}

	if len(ch.Modified) != 1 || ch.Modified[0].File.RelPath != "edited.md" {
		t.Errorf("Modified = %+v, want edited.md only", ch.Modified)
	}
	if ch.Modified[0].Prior.FileHash != "h3-old" {
		t.Errorf("Modified prior hash = %s, want h3-old", ch.Modified[0].Prior.FileHash)
	}

	// removed.md is newly missing; gone.md is already soft-deleted and
	// belongs to the purge sweep, not the diff.
	if len(ch.Deleted) != 1 || ch.Deleted[0].FilePath != "removed.md" {
		t.Errorf("Deleted = %+v, want removed.md only", ch.Deleted)
	}

	if len(ch.Unchanged) != 1 || ch.Unchanged[0].RelPath != "same.md" {
		t.Errorf("Unchanged = %+v, want same.md only", ch.Unchanged)
	}

	if got := ch.WorkItems(); got != 4 {
		t.Errorf("WorkItems() = %d, want 4", got)
	}
}

func TestDetect_HashAuthoritativeOverMtime(t *testing.T) {
	f := scanned("doc.md", "same-hash")
	f.ModTime = time.Now()
	rec := record("doc.md", "same-hash", storage.FileStatusSynced)
	rec.ModifiedAt = time.Now().Add(-24 * time.Hour)

	ch := Detect([]scanner.ScannedFile{f}, []storage.FileRecord{rec}, false)
	if len(ch.Unchanged) != 1 || len(ch.Modified) != 0 {
		t.Errorf("touched file with identical hash must be Unchanged, got %+v", ch)
	}
}

func TestDetect_IncompleteSyncRequeued(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{"pending record", storage.FileStatusPending},
		{"failed record", storage.FileStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := scanned("doc.md", "h1")
			rec := record("doc.md", "h1", tt.status)
			ch := Detect([]scanner.ScannedFile{f}, []storage.FileRecord{rec}, false)
			if len(ch.Modified) != 1 {
				t.Errorf("record with status %q and matching hash must be re-queued, got %+v", tt.status, ch)
			}
		})
	}
}

func TestDetect_ForceFull(t *testing.T) {
	scan := []scanner.ScannedFile{
		scanned("known.md", "h1"),
		scanned("new.md", "h2"),
	}
	prior := []storage.FileRecord{
		record("known.md", "h1", storage.FileStatusSynced),
		record("missing.md", "h3", storage.FileStatusSynced),
	}

	ch := Detect(scan, prior, true)

	if len(ch.Modified) != 1 || ch.Modified[0].File.RelPath != "known.md" {
		t.Errorf("force full: known.md must be Modified despite matching hash, got %+v", ch.Modified)
	}
	if len(ch.Added) != 1 || ch.Added[0].RelPath != "new.md" {
		t.Errorf("force full: Added = %+v", ch.Added)
	}
	if len(ch.Deleted) != 1 || ch.Deleted[0].FilePath != "missing.md" {
		t.Errorf("force full: deletions still detected, got %+v", ch.Deleted)
	}
	if len(ch.Unchanged) != 0 {
		t.Errorf("force full: Unchanged must be empty, got %+v", ch.Unchanged)
	}
}

func TestDetect_EmptyInputs(t *testing.T) {
	ch := Detect(nil, nil, false)
	if ch.WorkItems() != 0 || len(ch.Unchanged) != 0 {
		t.Errorf("empty inputs produced work: %+v", ch)
	}

	ch = Detect(nil, []storage.FileRecord{record("a.md", "h", storage.FileStatusSynced)}, false)
	if len(ch.Deleted) != 1 {
		t.Errorf("empty scan must delete all live records, got %+v", ch)
	}
}
