package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Normalized file processing states reported by the backend.
const (
	FileStateProcessing = "processing"
	FileStateReady      = "ready"
	FileStateFailed     = "failed"
)

// Config holds API settings for the grounded generation backend.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// FileRef identifies a document registered with the backend. Name is the
// resource name used for status polling; URI is attached to prompt parts.
type FileRef struct {
	Name  string
	URI   string
	State string
}

// Part is one piece of a prompt message: plain text or a file attachment.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"fileData,omitempty"`
}

type FileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// Content is one conversation entry in backend wire shape.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Source is a grounding source reported by the backend alongside an answer.
type Source struct {
	Title string
	Text  string
	URI   string
}

// GroundedAnswer is the normalized result of a grounded completion.
type GroundedAnswer struct {
	Text    string
	Sources []Source
}

type GroundedClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewGroundedClient(cfg Config) *GroundedClient {
	return &GroundedClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type fileResource struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	MIMEType string `json:"mimeType"`
}

// UploadFile registers a document with the backend and returns its file
// reference. The returned state is usually still processing; callers poll
// FileState until it settles.
func (c *GroundedClient) UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (FileRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metadata := map[string]interface{}{
		"file": map[string]interface{}{
			"display_name": displayName,
		},
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return FileRef{}, fmt.Errorf("marshal file metadata failed: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaBytes)); err != nil {
		return FileRef{}, fmt.Errorf("write file metadata failed: %w", err)
	}

	part, err := writer.CreateFormFile("file", displayName)
	if err != nil {
		return FileRef{}, fmt.Errorf("build file part failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return FileRef{}, fmt.Errorf("copy file bytes failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return FileRef{}, fmt.Errorf("close multipart body failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/upload/v1beta/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return FileRef{}, fmt.Errorf("build file upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Goog-Upload-File-Mime-Type", mimeType)
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileRef{}, fmt.Errorf("file upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return FileRef{}, fmt.Errorf("read file upload response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return FileRef{}, fmt.Errorf("file upload status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		File fileResource `json:"file"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return FileRef{}, fmt.Errorf("parse file upload json failed: %w", err)
	}
	if parsed.File.Name == "" {
		return FileRef{}, fmt.Errorf("file upload returned no resource name")
	}
	return FileRef{
		Name:  parsed.File.Name,
		URI:   parsed.File.URI,
		State: normalizeFileState(parsed.File.State),
	}, nil
}

// FileState returns the normalized processing state of a registered file.
func (c *GroundedClient) FileState(ctx context.Context, name string) (string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/" + strings.TrimLeft(name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build file state request failed: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("file state request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file state response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("file state status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed fileResource
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse file state json failed: %w", err)
	}
	return normalizeFileState(parsed.State), nil
}

// GenerateGrounded runs one grounded completion over the given contents.
// Grounding metadata is backend-dependent; missing metadata yields an
// answer with no sources, never an error.
func (c *GroundedClient) GenerateGrounded(ctx context.Context, systemInstruction string, contents []Content) (GroundedAnswer, error) {
	reqBody := map[string]interface{}{
		"systemInstruction": map[string]interface{}{
			"parts": []map[string]string{{"text": systemInstruction}},
		},
		"contents": contents,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return GroundedAnswer{}, fmt.Errorf("marshal generate request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/models/" + c.cfg.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return GroundedAnswer{}, fmt.Errorf("build generate request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GroundedAnswer{}, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return GroundedAnswer{}, fmt.Errorf("read generate response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return GroundedAnswer{}, fmt.Errorf("generate status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			GroundingMetadata struct {
				GroundingChunks []struct {
					RetrievedContext *struct {
						URI   string `json:"uri"`
						Title string `json:"title"`
						Text  string `json:"text"`
					} `json:"retrievedContext"`
					Web *struct {
						URI   string `json:"uri"`
						Title string `json:"title"`
					} `json:"web"`
				} `json:"groundingChunks"`
			} `json:"groundingMetadata"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GroundedAnswer{}, fmt.Errorf("parse generate json failed: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return GroundedAnswer{}, fmt.Errorf("empty generate candidates")
	}

	candidate := parsed.Candidates[0]
	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}

	var sources []Source
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		switch {
		case chunk.RetrievedContext != nil:
			sources = append(sources, Source{
				Title: chunk.RetrievedContext.Title,
				Text:  chunk.RetrievedContext.Text,
				URI:   chunk.RetrievedContext.URI,
			})
		case chunk.Web != nil:
			sources = append(sources, Source{
				Title: chunk.Web.Title,
				URI:   chunk.Web.URI,
			})
		}
	}

	return GroundedAnswer{Text: text.String(), Sources: sources}, nil
}

func normalizeFileState(state string) string {
	switch strings.ToUpper(state) {
	case "ACTIVE", "READY":
		return FileStateReady
	case "FAILED":
		return FileStateFailed
	default:
		return FileStateProcessing
	}
}
