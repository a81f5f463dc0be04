package extractor

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

// Config holds settings for the page-image extraction backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// ExtractedImage mirrors one image entry of the extraction response.
type ExtractedImage struct {
	ID         string `json:"id"`
	PageNumber int    `json:"page_number"`
	Label      string `json:"label"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Result is the parsed outcome of one extraction call.
type Result struct {
	SessionID  string
	TotalPages int
	Images     []ExtractedImage
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Extract renders every page of the PDF on the extraction backend and
// returns the image inventory for the issued session.
func (c *Client) Extract(ctx context.Context, r io.Reader, fileName string) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return Result{}, fmt.Errorf("build extract file part failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Result{}, fmt.Errorf("copy extract file bytes failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close extract multipart body failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build extract request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("extract request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read extract response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("extract status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Success        bool             `json:"success"`
		SessionID      string           `json:"session_id"`
		TotalPages     int              `json:"total_pages"`
		ExtractedPages int              `json:"extracted_pages"`
		Images         []ExtractedImage `json:"images"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse extract json failed: %w", err)
	}
	if !parsed.Success {
		return Result{}, fmt.Errorf("extraction backend reported failure")
	}
	if parsed.SessionID == "" {
		return Result{}, fmt.Errorf("extraction backend returned no session id")
	}

	return Result{
		SessionID:  parsed.SessionID,
		TotalPages: parsed.TotalPages,
		Images:     parsed.Images,
	}, nil
}

// ImageURL builds the retrieval locator for one extracted page image.
func (c *Client) ImageURL(sessionID, imageID string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/images/" + sessionID + "/" + imageID
}
