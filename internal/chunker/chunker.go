package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/tokenutil"
)

const (
	DefaultMaxTokens     = 500
	DefaultOverlapTokens = 50
	DefaultMinChunkSize  = 20
)

type Config struct {
	MaxTokens     int `json:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
	MinChunkSize  int `json:"min_chunk_size"`
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		MinChunkSize:  DefaultMinChunkSize,
	}
}

// Chunker splits speaker segments into embedding-sized pieces.
// Token counts come from tokenutil.Estimate, so every budget here is a
// character budget in disguise.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = 0
	}
	return &Chunker{cfg: cfg}
}

// ChunkSegments returns the chunks for all segments in narrative order.
// Sub-chunk timestamps are interpolated linearly across the segment since
// word-level timings are not available.
func (c *Chunker) ChunkSegments(segments []model.SpeakerSegment) []model.Chunk {
	var out []model.Chunk
	for segIdx, seg := range segments {
		texts := c.splitText(seg.Text)
		total := len(texts)
		duration := seg.End - seg.Start
		if duration < 0 {
			duration = 0
		}
		for i, txt := range texts {
			start := seg.Start + duration*float64(i)/float64(total)
			end := seg.Start + duration*float64(i+1)/float64(total)
			if i == 0 {
				start = seg.Start
			}
			if i == total-1 && duration > 0 {
				end = seg.End
			}
			out = append(out, model.Chunk{
				SegmentIndex: segIdx,
				ChunkIndex:   i,
				TotalChunks:  total,
				Speaker:      seg.Speaker,
				StartTime:    start,
				EndTime:      end,
				Text:         txt,
			})
		}
	}
	return out
}

func (c *Chunker) splitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if tokenutil.Estimate(text) <= c.cfg.MaxTokens {
		return []string{text}
	}
	budget := tokenutil.Chars(c.cfg.MaxTokens)
	chunks, fresh := c.pack(splitSentences(text), budget)
	if len(chunks) == 0 || exceeds(chunks, budget*3/2) {
		chunks, fresh = c.pack(splitWords(text, budget), budget)
	}
	return c.mergeTail(chunks, fresh)
}

// mergeTail folds a final chunk whose new text is under MinChunkSize into
// the chunk before it.
func (c *Chunker) mergeTail(chunks []string, fresh string) []string {
	n := len(chunks)
	if n < 2 || utf8.RuneCountInString(fresh) >= tokenutil.Chars(c.cfg.MinChunkSize) {
		return chunks
	}
	chunks[n-2] += " " + fresh
	return chunks[:n-1]
}

// pack greedily joins units up to budget characters. After each flush the
// next buffer is seeded with the tail of the flushed one. The second result
// is the last chunk minus that seeded overlap.
func (c *Chunker) pack(units []string, budget int) ([]string, string) {
	overlapChars := tokenutil.Chars(c.cfg.OverlapTokens)

	var chunks []string
	buf := ""
	freshStart := 0
	for _, unit := range units {
		if buf == "" {
			buf = unit
			freshStart = 0
			continue
		}
		candidate := buf + " " + unit
		if utf8.RuneCountInString(candidate) <= budget {
			buf = candidate
			continue
		}
		chunks = append(chunks, buf)
		overlap := overlapTail(buf, overlapChars)
		if overlap == "" {
			buf = unit
			freshStart = 0
			continue
		}
		buf = overlap + " " + unit
		freshStart = len(overlap) + 1
	}
	if buf == "" {
		return chunks, ""
	}
	return append(chunks, buf), buf[freshStart:]
}

// overlapTail returns the last n characters of s, cut forward to a word
// boundary when one exists in the first half of that window.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	tail := runes[len(runes)-n:]
	for i := 0; i < n/2; i++ {
		if unicode.IsSpace(tail[i]) {
			tail = tail[i+1:]
			break
		}
	}
	return strings.TrimSpace(string(tail))
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// splitWords splits on whitespace and hard-splits any word longer than limit.
func splitWords(text string, limit int) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > limit {
			out = append(out, string(runes[:limit]))
			runes = runes[limit:]
		}
		if len(runes) > 0 {
			out = append(out, string(runes))
		}
	}
	return out
}

func exceeds(chunks []string, limit int) bool {
	for _, ch := range chunks {
		if utf8.RuneCountInString(ch) > limit {
			return true
		}
	}
	return false
}
