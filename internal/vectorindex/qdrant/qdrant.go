// Package qdrant is a REST client to a Qdrant collection. Conversation
// namespaces are expressed as payload filters on conversation_id.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blogchat/internal/vectorindex"
)

var _ vectorindex.Index = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStorage(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant url is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant collection is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection with cosine distance and a keyword
// payload index on conversation_id. Existing collections are left as they are.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	status, _, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.expectOK(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	index := map[string]any{
		"field_name":   vectorindex.MetaConversationID,
		"field_schema": "keyword",
	}
	return s.expectOK(ctx, http.MethodPut, s.collectionURL()+"/index?wait=true", index, nil)
}

func (s *Storage) Upsert(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := map[string]any{"text": r.Text}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points[i] = map[string]any{
			"id":      r.ID,
			"vector":  r.Vector,
			"payload": payload,
		}
	}
	return s.expectOK(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil)
}

func (s *Storage) Query(ctx context.Context, vector []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 4
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       filterBody(filter),
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.expectOK(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	matches := make([]vectorindex.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		rec := vectorindex.Record{
			ID:       fmt.Sprint(r.ID),
			Metadata: make(map[string]string),
		}
		for k, v := range r.Payload {
			switch val := v.(type) {
			case string:
				if k == "text" {
					rec.Text = val
					continue
				}
				rec.Metadata[k] = val
			case float64:
				rec.Metadata[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
		// The server applied the filter, this guards against a misconfigured proxy.
		if !filter.Matches(rec.Metadata) {
			continue
		}
		matches = append(matches, vectorindex.Match{Record: rec, Score: r.Score})
	}
	return matches, nil
}

func (s *Storage) DeleteByFilter(ctx context.Context, filter vectorindex.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	body := map[string]any{"filter": filterBody(filter)}
	status, raw, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	return checkStatus(http.MethodPost, "points/delete", status, raw)
}

func filterBody(filter vectorindex.Filter) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   vectorindex.MetaConversationID,
				"match": map[string]any{"value": filter.ConversationID},
			},
		},
	}
}

// Ping checks that the collection is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.expectOK(ctx, http.MethodGet, s.collectionURL(), nil, nil)
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) expectOK(ctx context.Context, method, url string, body, out any) error {
	status, raw, err := s.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	if err := checkStatus(method, url, status, raw); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode qdrant response failed: %w", err)
		}
	}
	return nil
}

func (s *Storage) do(ctx context.Context, method, url string, body any) (int, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build qdrant request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: qdrant %s: %v", vectorindex.ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read qdrant response: %v", vectorindex.ErrUnavailable, err)
	}
	return resp.StatusCode, raw, nil
}

func checkStatus(method, url string, status int, raw []byte) error {
	if status < 300 {
		return nil
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: qdrant %s %s status %d", vectorindex.ErrUnavailable, method, url, status)
	}
	return fmt.Errorf("qdrant %s %s status %d: %s", method, url, status, string(raw))
}
