package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type KnowledgeHandler struct {
	knowledge *service.KnowledgeService
}

func NewKnowledgeHandler(knowledge *service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

type successResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *KnowledgeHandler) List(c *gin.Context) {
	reg, err := h.knowledge.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Raw(c, reg)
}

func (h *KnowledgeHandler) Remove(c *gin.Context) {
	h.apply(c, func(req *service.KnowledgeRequest) error {
		typ, err := req.SourceType()
		if err != nil {
			return err
		}
		return h.knowledge.Remove(c.Request.Context(), req.Item, typ)
	})
}

func (h *KnowledgeHandler) Reembed(c *gin.Context) {
	h.apply(c, func(req *service.KnowledgeRequest) error {
		typ, err := req.SourceType()
		if err != nil {
			return err
		}
		_, err = h.knowledge.Reembed(c.Request.Context(), req.Item, typ)
		return err
	})
}

func (h *KnowledgeHandler) apply(c *gin.Context, fn func(req *service.KnowledgeRequest) error) {
	var req service.KnowledgeRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		err = invalid(err)
	} else if err = service.Validate(&req); err == nil {
		err = fn(&req)
	}
	if err != nil {
		logError(c, err)
		status, _ := classify(err)
		response.RawStatus(c, status, successResponse{Error: err.Error()})
		return
	}
	response.Raw(c, successResponse{Success: true})
}
