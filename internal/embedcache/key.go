package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

// fillMisses calls embed for the texts at the missing positions and writes
// the results back into out.
func fillMisses(out [][]float32, texts []string, missing []int, embed func([]string) ([][]float32, error)) ([][]float32, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	pending := make([]string, 0, len(missing))
	for _, idx := range missing {
		pending = append(pending, texts[idx])
	}
	res, err := embed(pending)
	if err != nil {
		return nil, err
	}
	for i, idx := range missing {
		out[idx] = res[i]
	}
	return res, nil
}
