package model

type Scope string

const (
	ScopeConversation Scope = "conversation"
	ScopeFolder       Scope = "folder"
	ScopeGlobal       Scope = "global"
)

type Citation struct {
	TranscriptionID   string  `json:"transcription_id"`
	ConversationTitle string  `json:"conversation_title"`
	Speaker           string  `json:"speaker"`
	Timestamp         string  `json:"timestamp"`
	TimestampSeconds  float64 `json:"timestamp_seconds"`
	Text              string  `json:"text"`
	RelevanceScore    float64 `json:"relevance_score"`
}

type QAHistoryItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Scope     Scope      `json:"scope"`
	Usage     Usage      `json:"usage"`
}

type MatchedSnippet struct {
	Text             string  `json:"text"`
	Speaker          string  `json:"speaker"`
	Timestamp        string  `json:"timestamp"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	Score            float64 `json:"score"`
}

type ConversationMatch struct {
	TranscriptionID   string           `json:"transcription_id"`
	ConversationTitle string           `json:"conversation_title"`
	ConversationDate  int64            `json:"conversation_date"`
	FolderID          *string          `json:"folder_id"`
	FolderName        *string          `json:"folder_name"`
	MaxScore          float64          `json:"max_score"`
	MatchedSnippets   []MatchedSnippet `json:"matched_snippets"`
}

type IndexingStatus struct {
	TranscriptionID      string `json:"transcription_id"`
	Indexed              bool   `json:"indexed"`
	PointCount           int64  `json:"point_count"`
	VectorIndexedAt      int64  `json:"vector_indexed_at"`
	VectorChunkCount     int    `json:"vector_chunk_count"`
	VectorIndexVersion   int    `json:"vector_index_version"`
	CurrentIndexVersion  int    `json:"current_index_version"`
	Stale                bool   `json:"stale"`
	VectorStoreAvailable bool   `json:"vector_store_available"`
}
