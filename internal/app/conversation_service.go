package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
	"pdfchat/internal/refmark"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrGroundingLost        = errors.New("document reference is missing for this conversation")
	ErrChatBackend          = errors.New("chat backend failed")
)

// GroundedChatBackend runs one grounded completion over a prepared
// conversation transcript.
type GroundedChatBackend interface {
	GenerateGrounded(ctx context.Context, systemInstruction string, contents []ai.Content) (ai.GroundedAnswer, error)
}

// TranscriptCache is the read-model cache for conversation transcripts.
type TranscriptCache interface {
	GetTranscript(ctx context.Context, conversationID string) ([]model.Turn, bool, error)
	SetTranscript(ctx context.Context, conversationID string, turns []model.Turn) error
	DeleteTranscript(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

// Conversation owns the append-only history for one uploaded document.
// The document handle is immutable for the conversation's lifetime; a new
// document requires a new conversation.
type Conversation struct {
	ID     string
	Handle model.DocumentHandle

	mu              sync.Mutex
	instruction     string
	history         []model.Turn
	highlightedPage int
}

type ConversationService struct {
	backend     GroundedChatBackend
	publisher   UsageEventPublisher
	transcripts TranscriptCache

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewConversationService builds the engine. publisher and transcripts may
// be nil; turn events and the cache-aside path are then skipped.
func NewConversationService(backend GroundedChatBackend, publisher UsageEventPublisher, transcripts TranscriptCache) *ConversationService {
	return &ConversationService{
		backend:       backend,
		publisher:     publisher,
		transcripts:   transcripts,
		conversations: make(map[string]*Conversation),
	}
}

// StartConversation registers a fresh conversation for an ingested
// document. The grounding instruction is built once here and cached; the
// highlighted page starts at 0 ("none").
func (s *ConversationService) StartConversation(handle model.DocumentHandle) *Conversation {
	conv := &Conversation{
		ID:          uuid.NewString(),
		Handle:      handle,
		instruction: BuildInstruction(handle.Pages),
	}
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return conv
}

func (s *ConversationService) get(conversationID string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	return conv, ok
}

// TurnResult is the caller-facing outcome of one successful send.
type TurnResult struct {
	ConversationID  string            `json:"conversation_id"`
	Turn            model.Turn        `json:"turn"`
	Segments        []refmark.Segment `json:"segments"`
	HighlightedPage int               `json:"highlighted_page"`
}

// SendMessage appends the user turn, re-grounds the full history against
// the document, invokes the backend, and appends the normalized assistant
// turn. On backend failure the history keeps exactly the user turn, so the
// message can be resent; the visible fallback is the handler's concern.
// Sends on one conversation are serialized by its mutex.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, content string) (*TurnResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	conv, ok := s.get(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.Handle.DocumentURI == "" {
		return nil, ErrGroundingLost
	}

	userTurn := model.Turn{
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	conv.history = append(conv.history, userTurn)
	s.invalidateTranscript(ctx, conv.ID)

	answer, err := s.backend.GenerateGrounded(ctx, conv.instruction, buildContents(conv.Handle, conv.history))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChatBackend, err)
	}

	text := strings.TrimSpace(answer.Text)
	if text == "" {
		text = "The model returned an empty response."
	}
	assistantTurn := model.Turn{
		Role:      model.RoleAssistant,
		Content:   text,
		Citations: normalizeCitations(answer.Sources),
		CreatedAt: time.Now(),
	}
	conv.history = append(conv.history, assistantTurn)

	if refs := refmark.ExtractPageRefs(text); len(refs) > 0 {
		conv.highlightedPage = refs[0]
	}

	s.publishTurn(ctx, conv, model.RoleUser)
	s.publishTurn(ctx, conv, model.RoleAssistant)

	return &TurnResult{
		ConversationID:  conv.ID,
		Turn:            assistantTurn,
		Segments:        refmark.Split(text),
		HighlightedPage: conv.highlightedPage,
	}, nil
}

// GetHistory returns the conversation transcript, serving from the cache
// when it is present and clean, refilling it from memory otherwise.
func (s *ConversationService) GetHistory(ctx context.Context, conversationID string) ([]model.Turn, error) {
	conv, ok := s.get(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}

	if s.transcripts != nil {
		if dirty, err := s.transcripts.IsDirty(ctx, conversationID); err == nil && !dirty {
			if cached, hit, cacheErr := s.transcripts.GetTranscript(ctx, conversationID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	conv.mu.Lock()
	turns := append([]model.Turn(nil), conv.history...)
	conv.mu.Unlock()

	if s.transcripts != nil {
		if dirty, err := s.transcripts.IsDirty(ctx, conversationID); err == nil && !dirty {
			if setErr := s.transcripts.SetTranscript(ctx, conversationID, turns); setErr != nil {
				log.Printf("cache transcript failed: %v", setErr)
			}
		}
	}
	return turns, nil
}

// HighlightedPage reports the page the gallery should highlight; 0 means
// none.
func (s *ConversationService) HighlightedPage(conversationID string) (int, error) {
	conv, ok := s.get(conversationID)
	if !ok {
		return 0, ErrConversationNotFound
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.highlightedPage, nil
}

// Handle returns the immutable document handle of a conversation.
func (s *ConversationService) Handle(conversationID string) (model.DocumentHandle, error) {
	conv, ok := s.get(conversationID)
	if !ok {
		return model.DocumentHandle{}, ErrConversationNotFound
	}
	return conv.Handle, nil
}

// DeleteConversation drops the conversation and its cached transcript.
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	_, ok := s.conversations[conversationID]
	if ok {
		delete(s.conversations, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}
	if s.transcripts != nil {
		if err := s.transcripts.DeleteTranscript(ctx, conversationID); err != nil {
			log.Printf("delete cached transcript failed: %v", err)
		}
	}
	return nil
}

func (s *ConversationService) invalidateTranscript(ctx context.Context, conversationID string) {
	if s.transcripts == nil {
		return
	}
	if err := s.transcripts.MarkDirty(ctx, conversationID); err != nil {
		log.Printf("mark transcript dirty failed: %v", err)
	}
	if err := s.transcripts.DeleteTranscript(ctx, conversationID); err != nil {
		log.Printf("invalidate transcript failed: %v", err)
	}
}

func (s *ConversationService) publishTurn(ctx context.Context, conv *Conversation, role string) {
	if s.publisher == nil {
		return
	}
	event := model.UsageEvent{
		Kind:           model.UsageTurnCompleted,
		RecordID:       conv.Handle.RecordID,
		ConversationID: conv.ID,
		Role:           role,
		At:             time.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("publish turn event failed: %v", err)
	}
}

// buildContents converts the history into backend wire shape. The document
// reference is re-attached to every user turn, not only the first: the
// backend does not persist document context across turns. The last history
// entry is the user turn being answered.
func buildContents(handle model.DocumentHandle, history []model.Turn) []ai.Content {
	contents := make([]ai.Content, 0, len(history))
	for _, turn := range history {
		if turn.Role == model.RoleUser {
			contents = append(contents, ai.Content{
				Role: "user",
				Parts: []ai.Part{
					{Text: turn.Content},
					{FileData: &ai.FileData{MIMEType: "application/pdf", FileURI: handle.DocumentURI}},
				},
			})
			continue
		}
		contents = append(contents, ai.Content{
			Role:  "model",
			Parts: []ai.Part{{Text: turn.Content}},
		})
	}
	return contents
}

// normalizeCitations maps backend grounding sources onto the strict
// citation shape, dropping entries with no usable label.
func normalizeCitations(sources []ai.Source) []model.Citation {
	if len(sources) == 0 {
		return nil
	}
	citations := make([]model.Citation, 0, len(sources))
	for _, src := range sources {
		title := strings.TrimSpace(src.Title)
		if title == "" {
			if src.URI == "" {
				continue
			}
			title = src.URI
		}
		citations = append(citations, model.Citation{
			Title: title,
			Text:  src.Text,
			URI:   src.URI,
		})
	}
	if len(citations) == 0 {
		return nil
	}
	return citations
}
