// Package diff classifies a tenant's scanned files against persisted file
// records into disjoint Added / Modified / Deleted / Unchanged sets.
package diff

import (
	"docsync/internal/scanner"
	"docsync/internal/storage"
)

// Changes holds the disjoint classification of one scan.
type Changes struct {
	Added     []scanner.ScannedFile
	Modified  []Modification
	Deleted   []storage.FileRecord
	Unchanged []scanner.ScannedFile
}

// Modification pairs a changed file with its prior record so downstream
// processing knows the previous chunk count (shrink handling) and keeps the
// document ID stable.
type Modification struct {
	File  scanner.ScannedFile
	Prior storage.FileRecord
}

// WorkItems returns the number of items the orchestrator must process.
func (c Changes) WorkItems() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Detect diffs the current scan against prior records.
//
// The hash is authoritative: a file whose hash matches its record is
// Unchanged even when its mtime moved. A record whose sync never completed
// (pending or failed) is re-queued as Modified regardless of hash, since
// the stores may hold partial state for it. Soft-deleted records whose file
// reappeared are classified Added (resurrection). Records without a file in
// the scan are Deleted unless already soft-deleted.
//
// When forceFull is set every present file is queued: prior records as
// Modified, new files as Added. Deletions are detected as usual.
func Detect(scan []scanner.ScannedFile, prior []storage.FileRecord, forceFull bool) Changes {
	byPath := make(map[string]storage.FileRecord, len(prior))
	for _, rec := range prior {
		byPath[rec.FilePath] = rec
	}

	var ch Changes
	seen := make(map[string]struct{}, len(scan))

	for _, f := range scan {
		seen[f.RelPath] = struct{}{}

		rec, ok := byPath[f.RelPath]
		if !ok || rec.DeletedAt != nil {
			ch.Added = append(ch.Added, f)
			continue
		}

		switch {
		case forceFull:
			ch.Modified = append(ch.Modified, Modification{File: f, Prior: rec})
		case rec.FileHash != f.Hash:
			ch.Modified = append(ch.Modified, Modification{File: f, Prior: rec})
		case rec.SyncStatus != storage.FileStatusSynced:
			ch.Modified = append(ch.Modified, Modification{File: f, Prior: rec})
		default:
			ch.Unchanged = append(ch.Unchanged, f)
		}
	}

	for _, rec := range prior {
		if _, ok := seen[rec.FilePath]; ok {
			continue
		}
		if rec.DeletedAt != nil {
			// Already soft-deleted; the purge sweep owns it from here.
			continue
		}
		ch.Deleted = append(ch.Deleted, rec)
	}

	return ch
}
