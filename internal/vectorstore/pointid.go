package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// pointNamespace is a fixed UUIDv5 namespace for point IDs. Changing it
// would orphan every existing point, so it is a constant for the lifetime
// of the schema.
var pointNamespace = uuid.MustParse("8a9e14a1-2c5b-4f36-9d07-6c1f0e0b42d3")

// PointID derives the deterministic point ID for one chunk. The same
// (tenant, document, chunk_index) always maps to the same UUID, which makes
// re-writes natural upserts: a re-synced chunk overwrites its predecessor
// instead of leaving a stale sibling behind.
func PointID(tenantID, documentID string, chunkIndex int) string {
	name := fmt.Sprintf("%s/%s/%d", tenantID, documentID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// PointIDRange returns the IDs for chunk indexes [from, to). The shrink case
// uses it to delete exactly the trailing IDs beyond the new chunk_total.
func PointIDRange(tenantID, documentID string, from, to int) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, PointID(tenantID, documentID, i))
	}
	return ids
}

// CollectionName returns the per-tenant collection name.
func CollectionName(prefix, tenantID string) string {
	return fmt.Sprintf("%s_%s", prefix, tenantID)
}
