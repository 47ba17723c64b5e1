package model

// SpeakerSegment is one contiguous utterance by a single speaker.
// Start and End are seconds from the beginning of the recording.
type SpeakerSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

type IndexingState struct {
	VectorIndexedAt    int64 `json:"vector_indexed_at"`
	VectorChunkCount   int   `json:"vector_chunk_count"`
	VectorIndexVersion int   `json:"vector_index_version"`
}

type Transcript struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	FolderID    string           `json:"folder_id"`
	Title       string           `json:"title"`
	Summary     string           `json:"summary"`
	KeyPoints   []string         `json:"key_points"`
	SegmentsKey string           `json:"segments_key"`
	Segments    []SpeakerSegment `json:"segments"`
	Ctime       int64            `json:"ctime"`
	IndexingState
}

type TranscriptSummary struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FolderID string `json:"folder_id"`
	Title    string `json:"title"`
	Ctime    int64  `json:"ctime"`
	IndexingState
}

type Folder struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Ctime  int64  `json:"ctime"`
}
