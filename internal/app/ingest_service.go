package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"pdfchat/internal/ai"
	"pdfchat/internal/extractor"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/pdfinfo"
	"pdfchat/internal/repository"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotPDF           = errors.New("uploaded file is not a readable pdf")
	ErrUploadFailed     = errors.New("document upload failed")
	ErrProcessingFailed = errors.New("document processing failed")
)

// Terminal poll-loop state reached when the backend never leaves
// processing within the attempt bound.
const stateTimedOut = "timed_out"

const (
	defaultPollInterval    = 2 * time.Second
	defaultPollMaxAttempts = 30
)

// DocumentBackend registers documents with the AI backend and reports
// their processing state.
type DocumentBackend interface {
	UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (ai.FileRef, error)
	FileState(ctx context.Context, name string) (string, error)
}

// PageExtractor renders document pages as images and builds their
// retrieval locators.
type PageExtractor interface {
	Extract(ctx context.Context, r io.Reader, fileName string) (extractor.Result, error)
	ImageURL(sessionID, imageID string) string
}

// UsageEventPublisher delivers usage events to the async stats pipeline.
type UsageEventPublisher interface {
	Publish(ctx context.Context, event model.UsageEvent) error
}

type IngestService struct {
	backend         DocumentBackend
	pages           PageExtractor
	docRepo         *repository.DocumentRepository
	publisher       UsageEventPublisher
	pollInterval    time.Duration
	pollMaxAttempts int
}

// NewIngestService builds the ingestion coordinator. docRepo and publisher
// may be nil; the registry row and usage event are then skipped.
func NewIngestService(
	backend DocumentBackend,
	pages PageExtractor,
	docRepo *repository.DocumentRepository,
	publisher UsageEventPublisher,
	pollInterval time.Duration,
	pollMaxAttempts int,
) *IngestService {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if pollMaxAttempts <= 0 {
		pollMaxAttempts = defaultPollMaxAttempts
	}
	return &IngestService{
		backend:         backend,
		pages:           pages,
		docRepo:         docRepo,
		publisher:       publisher,
		pollInterval:    pollInterval,
		pollMaxAttempts: pollMaxAttempts,
	}
}

// Ingest registers the PDF with the AI backend and extracts its page
// images concurrently, returning a handle once both paths are terminal.
// Extraction failure is non-fatal: the handle then carries no pages and
// only the gallery degrades. Registration failure aborts the upload.
func (s *IngestService) Ingest(ctx context.Context, pdfBytes []byte, fileName string) (*model.DocumentHandle, error) {
	if len(pdfBytes) == 0 {
		return nil, ErrInvalidInput
	}
	displayName := strings.TrimSpace(fileName)
	if displayName == "" {
		displayName = "document.pdf"
	}

	if !bytes.HasPrefix(pdfBytes, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}
	// Local page count is registry metadata only; the backends do their own
	// validation of the actual content.
	pageCount, err := pdfinfo.PageCount(bytes.NewReader(pdfBytes))
	if err != nil {
		log.Printf("local pdf parse failed for %q: %v", displayName, err)
		pageCount = 0
	}

	// The raw bytes are spooled to a scoped temporary file for the backend
	// handoff; it is removed on every exit path.
	spoolPath, err := spoolToTemp(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer func() {
		if removeErr := os.Remove(spoolPath); removeErr != nil {
			log.Printf("remove spool file failed: %v", removeErr)
		}
	}()

	var (
		wg         sync.WaitGroup
		ref        ai.FileRef
		regErr     error
		extraction extractor.Result
		extractErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ref, regErr = s.registerDocument(ctx, spoolPath, displayName)
	}()
	go func() {
		defer wg.Done()
		extraction, extractErr = s.pages.Extract(ctx, bytes.NewReader(pdfBytes), displayName)
	}()
	wg.Wait()

	if regErr != nil {
		return nil, regErr
	}

	handle := &model.DocumentHandle{
		DocumentRef: ref.Name,
		DocumentURI: ref.URI,
		DisplayName: displayName,
	}
	if extractErr != nil {
		log.Printf("page extraction failed for %q, continuing without gallery: %v", displayName, extractErr)
	} else if pages, ok := normalizePages(extraction, s.pages); !ok {
		log.Printf("page extraction for %q returned a broken page set, continuing without gallery", displayName)
	} else {
		handle.SessionID = extraction.SessionID
		handle.Pages = pages
	}

	s.recordIngest(ctx, handle, pageCount)
	return handle, nil
}

func (s *IngestService) registerDocument(ctx context.Context, spoolPath, displayName string) (ai.FileRef, error) {
	f, err := os.Open(spoolPath)
	if err != nil {
		return ai.FileRef{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer f.Close()

	ref, err := s.backend.UploadFile(ctx, f, "application/pdf", displayName)
	if err != nil {
		return ai.FileRef{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	state := ref.State
	if state == ai.FileStateProcessing {
		state = s.awaitProcessed(ctx, ref.Name)
	}
	switch state {
	case ai.FileStateReady:
		return ref, nil
	case stateTimedOut:
		return ai.FileRef{}, fmt.Errorf("%w: backend did not finish processing within %d polls", ErrProcessingFailed, s.pollMaxAttempts)
	default:
		return ai.FileRef{}, fmt.Errorf("%w: backend reported state %q", ErrProcessingFailed, state)
	}
}

// awaitProcessed polls the backend on a fixed interval until the file
// leaves the processing state or the attempt bound is exhausted. Transient
// poll errors count as ordinary attempts.
func (s *IngestService) awaitProcessed(ctx context.Context, name string) string {
	for attempt := 0; attempt < s.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return stateTimedOut
		case <-time.After(s.pollInterval):
		}

		state, err := s.backend.FileState(ctx, name)
		if err != nil {
			log.Printf("poll file state failed (attempt %d): %v", attempt+1, err)
			continue
		}
		if state != ai.FileStateProcessing {
			return state
		}
	}
	return stateTimedOut
}

func (s *IngestService) recordIngest(ctx context.Context, handle *model.DocumentHandle, pageCount int) {
	now := time.Now()
	if s.docRepo != nil {
		record := &model.DocumentRecord{
			DisplayName:  handle.DisplayName,
			DocumentRef:  handle.DocumentRef,
			SessionID:    handle.SessionID,
			PageCount:    pageCount,
			LastActivity: now,
		}
		if err := s.docRepo.Create(record); err != nil {
			log.Printf("record document failed: %v", err)
		} else {
			handle.RecordID = record.ID
		}
	}
	if s.publisher != nil {
		event := model.UsageEvent{
			Kind:     model.UsageDocumentIngested,
			RecordID: handle.RecordID,
			At:       now,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Printf("publish ingest event failed: %v", err)
		}
	}
}

func spoolToTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "pdfchat-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create spool file failed: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write spool file failed: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close spool file failed: %w", err)
	}
	return path, nil
}

// normalizePages converts the loosely-typed extraction response into the
// strict page set: sorted by page number, labels defaulted, locators
// resolved. A set that is not contiguous from 1 is rejected so the page
// ordering invariant holds unconditionally on success.
func normalizePages(result extractor.Result, locators PageExtractor) ([]model.PageImage, bool) {
	if len(result.Images) == 0 {
		return nil, false
	}

	pages := make([]model.PageImage, 0, len(result.Images))
	for _, img := range result.Images {
		if img.PageNumber < 1 || img.ID == "" {
			return nil, false
		}
		label := strings.TrimSpace(img.Label)
		if label == "" {
			label = fmt.Sprintf("Page %d", img.PageNumber)
		}
		pages = append(pages, model.PageImage{
			ID:         img.ID,
			PageNumber: img.PageNumber,
			Label:      label,
			Locator:    locators.ImageURL(result.SessionID, img.ID),
			Width:      img.Width,
			Height:     img.Height,
		})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	for i := range pages {
		if pages[i].PageNumber != i+1 {
			return nil, false
		}
	}
	return pages, true
}
