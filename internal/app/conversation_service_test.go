package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
	"pdfchat/internal/refmark"
)

type fakeChatBackend struct {
	mu           sync.Mutex
	answers      []ai.GroundedAnswer
	errs         []error
	calls        [][]ai.Content
	instructions []string
}

func (f *fakeChatBackend) GenerateGrounded(_ context.Context, systemInstruction string, contents []ai.Content) (ai.GroundedAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, systemInstruction)
	f.calls = append(f.calls, contents)

	idx := len(f.calls) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return ai.GroundedAnswer{}, f.errs[idx]
	}
	if len(f.answers) == 0 {
		return ai.GroundedAnswer{Text: "ok"}, nil
	}
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}

func testHandle() model.DocumentHandle {
	return model.DocumentHandle{
		DocumentRef: "files/abc",
		DocumentURI: "https://backend/files/abc",
		DisplayName: "report.pdf",
		SessionID:   "sess1",
		Pages: []model.PageImage{
			{ID: "page-1", PageNumber: 1, Label: "Page 1"},
			{ID: "page-2", PageNumber: 2, Label: "Page 2"},
		},
	}
}

func TestSendMessageAppendsUserAndAssistantTurn(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{Text: "An answer."}}}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	result, err := svc.SendMessage(context.Background(), conv.ID, "What is this?")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, result.Turn.Role)
	assert.Equal(t, "An answer.", result.Turn.Content)

	turns, err := svc.GetHistory(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "What is this?", turns[0].Content)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestSendMessageWorkedScenario(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{Text: "The title is shown [See Page 1]."}}}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	result, err := svc.SendMessage(context.Background(), conv.ID, "What's on the cover?")
	require.NoError(t, err)

	assert.Equal(t, 1, result.HighlightedPage)
	require.Len(t, result.Segments, 3)
	assert.Equal(t, refmark.Segment{Kind: refmark.SegmentText, Text: "The title is shown "}, result.Segments[0])
	assert.Equal(t, refmark.Segment{Kind: refmark.SegmentPageRef, Page: 1}, result.Segments[1])
	assert.Equal(t, refmark.Segment{Kind: refmark.SegmentText, Text: "."}, result.Segments[2])

	page, err := svc.HighlightedPage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
}

func TestHighlightUnchangedWithoutRefs(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{
		{Text: "Look at [See Page 2]."},
		{Text: "No references here."},
	}}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	_, err := svc.SendMessage(context.Background(), conv.ID, "first")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), conv.ID, "second")
	require.NoError(t, err)

	page, err := svc.HighlightedPage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, page)
}

func TestNewConversationStartsWithoutHighlight(t *testing.T) {
	svc := NewConversationService(&fakeChatBackend{}, nil, nil)
	conv := svc.StartConversation(testHandle())

	page, err := svc.HighlightedPage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, page)
}

func TestSendMessageBackendErrorKeepsUserTurn(t *testing.T) {
	backend := &fakeChatBackend{
		answers: []ai.GroundedAnswer{{}, {Text: "recovered"}},
		errs:    []error{errors.New("boom"), nil},
	}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	_, err := svc.SendMessage(context.Background(), conv.ID, "first try")
	assert.ErrorIs(t, err, ErrChatBackend)

	turns, err := svc.GetHistory(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)

	// The conversation stays usable for the next turn.
	result, err := svc.SendMessage(context.Background(), conv.ID, "second try")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Turn.Content)

	turns, err = svc.GetHistory(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestSendMessageRegroundsEveryUserTurn(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{Text: "answer"}}}
	svc := NewConversationService(backend, nil, nil)
	handle := testHandle()
	conv := svc.StartConversation(handle)

	for _, msg := range []string{"one", "two", "three", "four"} {
		_, err := svc.SendMessage(context.Background(), conv.ID, msg)
		require.NoError(t, err)
	}

	// Fourth call: 4 user turns + 3 assistant turns in backend order.
	fourth := backend.calls[3]
	require.Len(t, fourth, 7)

	userSeen := 0
	for i, content := range fourth {
		if i%2 == 0 {
			require.Equal(t, "user", content.Role)
			require.Len(t, content.Parts, 2)
			require.NotNil(t, content.Parts[1].FileData)
			assert.Equal(t, handle.DocumentURI, content.Parts[1].FileData.FileURI)
			assert.Equal(t, "application/pdf", content.Parts[1].FileData.MIMEType)
			userSeen++
		} else {
			require.Equal(t, "model", content.Role)
			require.Len(t, content.Parts, 1)
			assert.Nil(t, content.Parts[0].FileData)
		}
	}
	assert.Equal(t, 4, userSeen)
}

func TestInstructionBuiltOnceAndReused(t *testing.T) {
	backend := &fakeChatBackend{}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	_, err := svc.SendMessage(context.Background(), conv.ID, "one")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), conv.ID, "two")
	require.NoError(t, err)

	require.Len(t, backend.instructions, 2)
	assert.Equal(t, backend.instructions[0], backend.instructions[1])
	assert.Contains(t, backend.instructions[0], "- Page 1\n")
	assert.Contains(t, backend.instructions[0], "[See Page N]")
}

func TestSendMessageValidation(t *testing.T) {
	svc := NewConversationService(&fakeChatBackend{}, nil, nil)
	conv := svc.StartConversation(testHandle())

	_, err := svc.SendMessage(context.Background(), conv.ID, "   ")
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = svc.SendMessage(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	turns, err := svc.GetHistory(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSendMessageGroundingLost(t *testing.T) {
	svc := NewConversationService(&fakeChatBackend{}, nil, nil)
	handle := testHandle()
	handle.DocumentURI = ""
	conv := svc.StartConversation(handle)

	_, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	assert.ErrorIs(t, err, ErrGroundingLost)
}

func TestSendMessageDegradedDocumentStillChats(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{Text: "works [See Page 1]"}}}
	svc := NewConversationService(backend, nil, nil)
	handle := testHandle()
	handle.SessionID = ""
	handle.Pages = nil
	conv := svc.StartConversation(handle)

	result, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "works [See Page 1]", result.Turn.Content)
	// Markers still parse; only the gallery is missing.
	assert.Equal(t, 1, result.HighlightedPage)
	assert.NotContains(t, backend.instructions[0], "following pages")
}

func TestSendMessageNormalizesCitations(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{
		Text: "cited",
		Sources: []ai.Source{
			{Title: "report.pdf", Text: "an excerpt", URI: "https://backend/files/abc"},
			{Title: "", URI: "https://example.com/doc"},
			{Title: "", Text: "", URI: ""},
		},
	}}}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	result, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	require.NoError(t, err)

	require.Len(t, result.Turn.Citations, 2)
	assert.Equal(t, model.Citation{Title: "report.pdf", Text: "an excerpt", URI: "https://backend/files/abc"}, result.Turn.Citations[0])
	assert.Equal(t, "https://example.com/doc", result.Turn.Citations[1].Title)
}

func TestSendMessagePublishesTurnEvents(t *testing.T) {
	publisher := &fakePublisher{}
	svc := NewConversationService(&fakeChatBackend{}, publisher, nil)
	handle := testHandle()
	handle.RecordID = 7
	conv := svc.StartConversation(handle)

	_, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	require.NoError(t, err)

	require.Len(t, publisher.events, 2)
	assert.Equal(t, model.UsageTurnCompleted, publisher.events[0].Kind)
	assert.Equal(t, model.RoleUser, publisher.events[0].Role)
	assert.Equal(t, model.RoleAssistant, publisher.events[1].Role)
	assert.Equal(t, uint(7), publisher.events[1].RecordID)
	assert.Equal(t, conv.ID, publisher.events[1].ConversationID)
}

func TestSendMessagePublisherFailureDoesNotFailTurn(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := NewConversationService(&fakeChatBackend{}, publisher, nil)
	conv := svc.StartConversation(testHandle())

	_, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	assert.NoError(t, err)
}

func TestDeleteConversation(t *testing.T) {
	svc := NewConversationService(&fakeChatBackend{}, nil, nil)
	conv := svc.StartConversation(testHandle())

	require.NoError(t, svc.DeleteConversation(context.Background(), conv.ID))
	assert.ErrorIs(t, svc.DeleteConversation(context.Background(), conv.ID), ErrConversationNotFound)

	_, err := svc.GetHistory(context.Background(), conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestEmptyBackendAnswerSubstituted(t *testing.T) {
	backend := &fakeChatBackend{answers: []ai.GroundedAnswer{{Text: "   "}}}
	svc := NewConversationService(backend, nil, nil)
	conv := svc.StartConversation(testHandle())

	result, err := svc.SendMessage(context.Background(), conv.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "The model returned an empty response.", result.Turn.Content)
}
