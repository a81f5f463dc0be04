package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractParsesResponse(t *testing.T) {
	var gotPath, gotFileName string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFileName = header.Filename
		gotBody, err = io.ReadAll(file)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"session_id": "sess-42",
			"total_pages": 2,
			"extracted_pages": 2,
			"images": [
				{"id": "img-1", "page_number": 1, "label": "Sida 1", "width": 800, "height": 1131},
				{"id": "img-2", "page_number": 2, "label": "Sida 2", "width": 800, "height": 1131}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	result, err := client.Extract(context.Background(), strings.NewReader("pdf bytes"), "report.pdf")
	require.NoError(t, err)

	assert.Equal(t, "/extract", gotPath)
	assert.Equal(t, "report.pdf", gotFileName)
	assert.Equal(t, "pdf bytes", string(gotBody))

	assert.Equal(t, "sess-42", result.SessionID)
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Images, 2)
	assert.Equal(t, ExtractedImage{ID: "img-1", PageNumber: 1, Label: "Sida 1", Width: 800, Height: 1131}, result.Images[0])
}

func TestExtractBackendReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "session_id": "", "images": []}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Extract(context.Background(), strings.NewReader("x"), "report.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reported failure")
}

func TestExtractMissingSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "session_id": "", "images": []}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Extract(context.Background(), strings.NewReader("x"), "report.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session id")
}

func TestExtractHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Extract(context.Background(), strings.NewReader("x"), "report.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestImageURL(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://extractor:8001/"})
	assert.Equal(t, "http://extractor:8001/images/sess-42/img-1", client.ImageURL("sess-42", "img-1"))
}
