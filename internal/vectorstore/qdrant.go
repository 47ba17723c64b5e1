package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/xxxsen/convorag/internal/model"
)

type qdrantConfig struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	Timeout   int    `json:"timeout"`
}

// qdrantBackend talks to the Qdrant REST API.
type qdrantBackend struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

func newQdrantBackend(args *BackendArgs) (Backend, error) {
	cfg := &qdrantConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	return &qdrantBackend{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     apiKey,
		collection: args.Collection,
		client:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

func (q *qdrantBackend) Name() string {
	return "qdrant"
}

func (q *qdrantBackend) collectionURL(suffix string) string {
	return q.url + "/collections/" + url.PathEscape(q.collection) + suffix
}

func (q *qdrantBackend) CollectionExists(ctx context.Context) (bool, error) {
	status, err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

func (q *qdrantBackend) CreateCollection(ctx context.Context, dimension int) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	_, err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil)
	return err
}

func (q *qdrantBackend) CreatePayloadIndex(ctx context.Context, field string) error {
	body := map[string]interface{}{
		"field_name":   field,
		"field_schema": "keyword",
	}
	_, err := q.do(ctx, http.MethodPut, q.collectionURL("/index?wait=true"), body, nil)
	return err
}

func (q *qdrantBackend) Upsert(ctx context.Context, points []model.Point) error {
	if len(points) == 0 {
		return nil
	}
	_, err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]interface{}{"points": points}, nil)
	return err
}

func (q *qdrantBackend) Search(ctx context.Context, req *SearchRequest) ([]model.ScoredChunk, error) {
	body := map[string]interface{}{
		"vector":          req.Vector,
		"filter":          buildQdrantFilter(req.Filter),
		"limit":           req.Limit,
		"with_payload":    true,
		"score_threshold": req.ScoreThreshold,
	}
	var resp struct {
		Result []struct {
			ID      interface{}   `json:"id"`
			Score   float64       `json:"score"`
			Payload model.Payload `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), body, &resp); err != nil {
		return nil, err
	}
	out := make([]model.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, model.ScoredChunk{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

// Delete counts matching points first because the delete endpoint does not
// report how many it removed.
func (q *qdrantBackend) Delete(ctx context.Context, filter Filter) (int64, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("refusing to delete without filter")
	}
	n, err := q.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	body := map[string]interface{}{"filter": buildQdrantFilter(filter)}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *qdrantBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	body := map[string]interface{}{
		"filter": buildQdrantFilter(filter),
		"exact":  true,
	}
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/count"), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (q *qdrantBackend) Ping(ctx context.Context) error {
	_, err := q.do(ctx, http.MethodGet, q.url+"/healthz", nil, nil)
	return err
}

func buildQdrantFilter(f Filter) *qdrantFilter {
	out := &qdrantFilter{Must: []qdrantCondition{}}
	add := func(key, value string) {
		if value == "" {
			return
		}
		cond := qdrantCondition{Key: key}
		cond.Match.Value = value
		out.Must = append(out.Must, cond)
	}
	add(FieldUserID, f.UserID)
	add(FieldTranscriptionID, f.TranscriptionID)
	add(FieldFolderID, f.FolderID)
	return out
}

// do sends a JSON request. Status codes listed in allow are returned
// without error and without decoding the body.
func (q *qdrantBackend) do(ctx context.Context, method, endpoint string, in interface{}, out interface{}, allow ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	for _, code := range allow {
		if resp.StatusCode == code {
			return code, nil
		}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func init() {
	Register("qdrant", newQdrantBackend)
}
