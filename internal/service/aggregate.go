package service

import (
	"sort"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/tokenutil"
)

const (
	snippetsPerConversation = 3
	snippetChars            = 150
)

// rankChunks orders hits by score, keeping backend order for ties, and cuts
// the list to limit.
func rankChunks(chunks []model.ScoredChunk, limit int) []model.ScoredChunk {
	out := append([]model.ScoredChunk(nil), chunks...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GroupConversations folds ranked hits into one match per transcript. A
// group's score is the best score of any of its chunks, the metadata chunk
// included, while snippets come only from content chunks in rank order.
// Groups with equal scores keep the order they first appeared in.
func GroupConversations(chunks []model.ScoredChunk, maxResults int) []model.ConversationMatch {
	ranked := rankChunks(chunks, -1)
	index := make(map[string]int)
	var groups []model.ConversationMatch
	for _, c := range ranked {
		p := c.Payload
		i, ok := index[p.TranscriptionID]
		if !ok {
			i = len(groups)
			index[p.TranscriptionID] = i
			var folderID *string
			if fid := p.FolderIDValue(); fid != "" {
				folderID = &fid
			}
			groups = append(groups, model.ConversationMatch{
				TranscriptionID:   p.TranscriptionID,
				ConversationTitle: p.ConversationTitle,
				ConversationDate:  p.ConversationDate,
				FolderID:          folderID,
				MaxScore:          c.Score,
				MatchedSnippets:   []model.MatchedSnippet{},
			})
		}
		g := &groups[i]
		if c.Score > g.MaxScore {
			g.MaxScore = c.Score
		}
		switch p.ChunkType {
		case model.ChunkTypeContent:
			if len(g.MatchedSnippets) < snippetsPerConversation {
				g.MatchedSnippets = append(g.MatchedSnippets, model.MatchedSnippet{
					Text:             tokenutil.Truncate(p.Text, snippetChars),
					Speaker:          p.Speaker,
					Timestamp:        FormatTimestamp(p.StartTime),
					TimestampSeconds: p.StartTime,
					Score:            c.Score,
				})
			}
		case model.ChunkTypeMetadata:
			// counts toward the score only
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].MaxScore > groups[j].MaxScore
	})
	if maxResults >= 0 && len(groups) > maxResults {
		groups = groups[:maxResults]
	}
	return groups
}
