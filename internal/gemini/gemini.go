// Package gemini is a hand-rolled client for the Gemini REST API: streaming
// generation over SSE, model listing, and the resolve-not-reject response
// wrapper the chat loop consumes.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bearmind/bearmind/internal/assemble"
	"github.com/bearmind/bearmind/internal/types"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
)

// ErrNoAPIKey is returned by raw client calls when no key is configured.
// GenerateResponse translates it into the instructional reply instead.
var ErrNoAPIKey = errors.New("no API key configured")

// Wire shapes for generateContent. Field names follow the REST API.
type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
	Tools             []tool    `json:"tools,omitempty"`
}

type candidate struct {
	Content           content                  `json:"content"`
	FinishReason      string                   `json:"finishReason"`
	GroundingMetadata *types.GroundingMetadata `json:"groundingMetadata"`
}

type streamChunk struct {
	Candidates    []candidate          `json:"candidates"`
	UsageMetadata *types.UsageMetadata `json:"usageMetadata"`
	Error         *apiError            `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Result is one completed generation.
type Result struct {
	Text      string
	Usage     *types.UsageMetadata
	Grounding *types.GroundingMetadata
}

// Client talks to one Gemini endpoint with one key.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// HasKey reports whether a key is configured at all.
func (c *Client) HasKey() bool { return c.apiKey != "" }

// buildRequest maps the assembled payload to the wire format. The neutral
// part representation becomes text or fileData parts here and nowhere else.
func buildRequest(a assemble.Assembled, useSearch bool) generateRequest {
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: a.SystemPrompt}}},
	}
	for _, h := range a.History {
		req.Contents = append(req.Contents, content{Role: h.Role, Parts: []part{{Text: h.Text}}})
	}
	user := content{Role: "user"}
	for _, p := range a.UserParts {
		if p.FileURI != "" {
			user.Parts = append(user.Parts, part{FileData: &fileData{MimeType: p.MimeType, FileURI: p.FileURI}})
		} else {
			user.Parts = append(user.Parts, part{Text: p.Text})
		}
	}
	req.Contents = append(req.Contents, user)
	if useSearch {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}
	return req
}

// StreamGenerate runs one streaming generation. onPartial receives the
// accumulated text after every chunk, in arrival order; the final Result
// carries the same full text plus usage and grounding metadata when the
// provider sent them.
func (c *Client) StreamGenerate(ctx context.Context, model string, a assemble.Assembled, useSearch bool, onPartial func(text string)) (*Result, error) {
	if !c.HasKey() {
		return nil, ErrNoAPIKey
	}
	body, err := json.Marshal(buildRequest(a, useSearch))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result Result
	scanner := bufio.NewScanner(resp.Body)
	// Chunks carrying grounding metadata can run long.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(line[len("data: "):]), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("gemini: %s", chunk.Error.Message)
		}
		if chunk.UsageMetadata != nil {
			result.Usage = chunk.UsageMetadata
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				result.Text += p.Text
			}
			if cand.GroundingMetadata != nil {
				result.Grounding = cand.GroundingMetadata
			}
		}
		if onPartial != nil {
			onPartial(result.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return &result, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var wrapped struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil {
		return fmt.Errorf("gemini HTTP %d: %s", resp.StatusCode, wrapped.Error.Message)
	}
	return fmt.Errorf("gemini HTTP %d", resp.StatusCode)
}
