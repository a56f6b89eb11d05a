package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type ChatHandler struct {
	chat   *service.ChatService
	themes *service.ThemeService
}

func NewChatHandler(chat *service.ChatService, themes *service.ThemeService) *ChatHandler {
	return &ChatHandler{chat: chat, themes: themes}
}

type themesResponse struct {
	Themes []model.Theme `json:"themes"`
	Error  string        `json:"error,omitempty"`
}

// Chat always answers 200. Malformed bodies get the same apology as any
// other failed turn.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logError(c, err)
		response.Raw(c, &service.ChatResponse{Answer: service.ApologyAnswer, Sources: []string{}, Error: "invalid request"})
		return
	}
	response.Raw(c, h.chat.Chat(c.Request.Context(), &req))
}

func (h *ChatHandler) History(c *gin.Context) {
	var req service.HistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, invalid(err))
		return
	}
	turns, err := h.chat.History(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Raw(c, turns)
}

func (h *ChatHandler) Themes(c *gin.Context) {
	themes, err := h.themes.List(c.Request.Context(), c.Query("url"))
	if err != nil {
		logError(c, err)
		status, _ := classify(err)
		response.RawStatus(c, status, themesResponse{Themes: []model.Theme{}, Error: err.Error()})
		return
	}
	response.Raw(c, themesResponse{Themes: themes})
}
