package model

import "fmt"

// Chunk is a piece of one SpeakerSegment. ChunkIndex is zero-based and
// contiguous within the segment; TotalChunks is identical for all of them.
type Chunk struct {
	SegmentIndex int     `json:"segment_index"`
	ChunkIndex   int     `json:"chunk_index"`
	TotalChunks  int     `json:"total_chunks"`
	Speaker      string  `json:"speaker"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Text         string  `json:"text"`
}

type ChunkType int

const (
	ChunkTypeContent ChunkType = iota + 1
	ChunkTypeMetadata
)

func (t ChunkType) String() string {
	switch t {
	case ChunkTypeContent:
		return "content"
	case ChunkTypeMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("ChunkType(%d)", int(t))
	}
}

func (t ChunkType) MarshalText() ([]byte, error) {
	switch t {
	case ChunkTypeContent, ChunkTypeMetadata:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("unknown chunk type: %d", int(t))
	}
}

func (t *ChunkType) UnmarshalText(b []byte) error {
	v, err := ParseChunkType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseChunkType(s string) (ChunkType, error) {
	switch s {
	case "content":
		return ChunkTypeContent, nil
	case "metadata":
		return ChunkTypeMetadata, nil
	default:
		return 0, fmt.Errorf("unknown chunk type: %q", s)
	}
}
