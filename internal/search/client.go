package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
)

// IndexVideos is the videos index name
const IndexVideos = "vidlayer-videos"

// Client wraps the Elasticsearch client with video search
type Client struct {
	es *elasticsearch.Client
}

// NewClient creates a new Elasticsearch client and verifies the connection
func NewClient(url string, transport http.RoundTripper) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
		Transport: transport,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	res.Body.Close()

	return &Client{es: es}, nil
}

// InitializeIndices creates the videos index when it doesn't exist
func (c *Client) InitializeIndices(ctx context.Context) error {
	keyword := map[string]interface{}{"type": "keyword"}
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":               keyword,
				"creator_id":       keyword,
				"creator_username": keyword,
				"title": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
					"fields": map[string]interface{}{
						"keyword": keyword,
					},
				},
				"description":      map[string]interface{}{"type": "text", "analyzer": "standard"},
				"category":         keyword,
				"tags":             keyword,
				"duration_seconds": map[string]interface{}{"type": "float"},
				"view_count":       map[string]interface{}{"type": "long"},
				"created_at":       map[string]interface{}{"type": "date"},
			},
		},
	}

	res, err := c.es.Indices.Exists([]string{IndexVideos}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check if index exists: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(IndexVideos,
		c.es.Indices.Create.WithBody(bytes.NewReader(mappingJSON)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("creating index", res.Status(), res.Body)
	}
	return nil
}

// IndexVideo indexes or replaces a video document
func (c *Client) IndexVideo(ctx context.Context, doc VideoDoc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal video document: %w", err)
	}

	res, err := c.es.Index(IndexVideos, bytes.NewReader(body),
		c.es.Index.WithDocumentID(doc.ID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index video: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("indexing video", res.Status(), res.Body)
	}
	return nil
}

// DeleteVideo deletes a video document from the search index
func (c *Client) DeleteVideo(ctx context.Context, videoID string) error {
	res, err := c.es.Delete(IndexVideos, videoID,
		c.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	defer res.Body.Close()

	// 404 is OK - document doesn't exist
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("deleting video", res.Status(), res.Body)
	}
	return nil
}

// SearchVideos runs a fuzzy multi-field query with optional filters
func (c *Client) SearchVideos(ctx context.Context, params VideoSearchParams) (*VideoSearchResult, error) {
	var must []map[string]interface{}
	if params.Query != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     params.Query,
				"fields":    []string{"title^3", "tags^2", "description", "creator_username"},
				"fuzziness": "AUTO",
			},
		})
	} else {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	var filter []map[string]interface{}
	if params.Category != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"category": params.Category}})
	}
	if params.CreatorID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"creator_id": params.CreatorID}})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort": []map[string]interface{}{
			{"_score": map[string]interface{}{"order": "desc"}},
			{"view_count": map[string]interface{}{"order": "desc"}},
		},
		"from": params.Offset,
		"size": params.Limit,
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(IndexVideos),
		c.es.Search.WithBody(bytes.NewReader(queryJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("searching videos", res.Status(), res.Body)
	}

	var searchResp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string   `json:"_id"`
				Score  float64  `json:"_score"`
				Source VideoDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]VideoSearchHit, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		src := hit.Source
		hits = append(hits, VideoSearchHit{
			ID:              hit.ID,
			CreatorID:       src.CreatorID,
			CreatorUsername: src.CreatorUsername,
			Title:           src.Title,
			Description:     src.Description,
			Category:        src.Category,
			Tags:            src.Tags,
			ViewCount:       src.ViewCount,
			Score:           hit.Score,
		})
	}

	return &VideoSearchResult{
		Videos: hits,
		Total:  searchResp.Hits.Total.Value,
		Engine: "elasticsearch",
	}, nil
}

func responseError(action, status string, body io.Reader) error {
	var errResp map[string]interface{}
	if err := json.NewDecoder(body).Decode(&errResp); err != nil {
		return fmt.Errorf("error response [%s]", status)
	}
	return fmt.Errorf("error %s: [%s] %v", action, status, errResp["error"])
}
