package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type modelInfo struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"displayName"`
	SupportedMethods []string `json:"supportedGenerationMethods"`
}

type listModelsResponse struct {
	Models        []modelInfo `json:"models"`
	NextPageToken string      `json:"nextPageToken"`
}

// ListModels returns the model ids usable for generation, without the
// "models/" resource prefix, following pagination to the end.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if !c.HasKey() {
		return nil, ErrNoAPIKey
	}
	var names []string
	pageToken := ""
	for {
		url := fmt.Sprintf("%s/v1beta/models?pageSize=200&key=%s", c.baseURL, c.apiKey)
		if pageToken != "" {
			url += "&pageToken=" + pageToken
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := decodeError(resp)
			resp.Body.Close()
			return nil, err
		}
		var page listModelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode models: %w", err)
		}
		resp.Body.Close()

		for _, m := range page.Models {
			if !supportsGenerate(m) {
				continue
			}
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
		if page.NextPageToken == "" {
			return names, nil
		}
		pageToken = page.NextPageToken
	}
}

func supportsGenerate(m modelInfo) bool {
	for _, method := range m.SupportedMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}
