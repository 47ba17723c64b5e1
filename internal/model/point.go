package model

// MetadataSegmentIndex marks the per-transcript summary point.
const MetadataSegmentIndex = -1

// Payload is stored with every vector point. Field names are part of the
// stored data contract and must stay camelCase.
type Payload struct {
	UserID            string    `json:"userId"`
	TranscriptionID   string    `json:"transcriptionId"`
	FolderID          *string   `json:"folderId"`
	ChunkType         ChunkType `json:"chunkType"`
	Speaker           string    `json:"speaker"`
	StartTime         float64   `json:"startTime"`
	EndTime           float64   `json:"endTime"`
	Text              string    `json:"text"`
	SegmentIndex      int       `json:"segmentIndex"`
	ChunkIndex        int       `json:"chunkIndex"`
	TotalChunks       int       `json:"totalChunks"`
	ConversationTitle string    `json:"conversationTitle"`
	ConversationDate  int64     `json:"conversationDate"`
	IndexedAt         int64     `json:"indexedAt"`
}

func (p *Payload) FolderIDValue() string {
	if p == nil || p.FolderID == nil {
		return ""
	}
	return *p.FolderID
}

type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

type ScoredChunk struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}
