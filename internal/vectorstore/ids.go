package vectorstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/xxxsen/convorag/internal/model"
)

var pointNamespace = uuid.MustParse("6f1c1c3e-8a55-4f43-9b7e-4c4c1f2f0a11")

// PointID is stable for a chunk position so re-indexing the same transcript
// overwrites instead of duplicating.
func PointID(transcriptionID string, chunkType model.ChunkType, segmentIndex, chunkIndex int) string {
	name := fmt.Sprintf("%s/%s/%d/%d", transcriptionID, chunkType, segmentIndex, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}
