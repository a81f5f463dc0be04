package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/model"
	"pdfchat/internal/refmark"
	"pdfchat/internal/transport/http/response"
)

// Shown in place of an assistant turn when the backend fails; never stored
// in the conversation history, so the user's message can be resent.
const fallbackAssistantMessage = "Sorry, something went wrong while answering. Your message was kept - please try sending it again."

type ChatHandler struct {
	conversationService *app.ConversationService
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type TurnView struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Citations []model.Citation  `json:"citations,omitempty"`
	Segments  []refmark.Segment `json:"segments,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Fallback  bool              `json:"fallback,omitempty"`
}

func NewChatHandler(conversationService *app.ConversationService) *ChatHandler {
	return &ChatHandler{conversationService: conversationService}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.conversationService.SendMessage(c.Request.Context(), conversationID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		case errors.Is(err, app.ErrGroundingLost):
			response.Error(c, http.StatusConflict, response.CodeGroundingLost, err.Error())
		case errors.Is(err, app.ErrChatBackend):
			// The turn is lost but the conversation stays usable; surface a
			// visible fallback assistant message instead of an error page.
			highlight, _ := h.conversationService.HighlightedPage(conversationID)
			response.OK(c, gin.H{
				"conversation_id": conversationID,
				"turn": TurnView{
					Role:      model.RoleAssistant,
					Content:   fallbackAssistantMessage,
					Segments:  refmark.Split(fallbackAssistantMessage),
					CreatedAt: time.Now(),
					Fallback:  true,
				},
				"highlighted_page": highlight,
			})
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}

	response.OK(c, gin.H{
		"conversation_id": result.ConversationID,
		"turn": TurnView{
			Role:      result.Turn.Role,
			Content:   result.Turn.Content,
			Citations: result.Turn.Citations,
			Segments:  result.Segments,
			CreatedAt: result.Turn.CreatedAt,
		},
		"highlighted_page": result.HighlightedPage,
	})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	conversationID := c.Param("id")

	turns, err := h.conversationService.GetHistory(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	views := make([]TurnView, 0, len(turns))
	for _, turn := range turns {
		view := TurnView{
			Role:      turn.Role,
			Content:   turn.Content,
			Citations: turn.Citations,
			CreatedAt: turn.CreatedAt,
		}
		if turn.Role == model.RoleAssistant {
			view.Segments = refmark.Split(turn.Content)
		}
		views = append(views, view)
	}

	highlight, _ := h.conversationService.HighlightedPage(conversationID)
	response.OK(c, gin.H{
		"conversation_id":  conversationID,
		"turns":            views,
		"highlighted_page": highlight,
	})
}

func (h *ChatHandler) GetHighlight(c *gin.Context) {
	conversationID := c.Param("id")

	page, err := h.conversationService.HighlightedPage(conversationID)
	if err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get highlight failed")
		}
		return
	}

	response.OK(c, gin.H{
		"conversation_id":  conversationID,
		"highlighted_page": page,
	})
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("id")

	if err := h.conversationService.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete conversation failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_conversation_id": conversationID})
}
