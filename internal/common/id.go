package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewSourceID generates a unique source ID with the "src_" prefix.
// Format: src_<uuid>
func NewSourceID() string {
	return "src_" + uuid.New().String()
}

// NewChunkID generates a chunk ID derived from its source and ordinal so
// re-ingesting an unchanged document yields identical chunk IDs.
// Format: <source_id>:chunk_<ordinal>
func NewChunkID(sourceID string, ordinal int) string {
	return fmt.Sprintf("%s:chunk_%04d", sourceID, ordinal)
}
