package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/node"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
)

// AIHandler exposes the single stage nodes.
type AIHandler struct {
	nodes *node.Deps
}

func NewAIHandler(nodes *node.Deps) *AIHandler {
	return &AIHandler{nodes: nodes}
}

type aiTranslateRequest struct {
	Text       string           `json:"text" binding:"required"`
	TargetLang string           `json:"target_lang" binding:"required"`
	SourceLang string           `json:"source_lang"`
	Lang       string           `json:"lang"`
	Config     *model.LLMConfig `json:"config"`
}

type aiPolishRequest struct {
	Text   string           `json:"text" binding:"required"`
	Style  string           `json:"style"`
	Lang   string           `json:"lang"`
	Config *model.LLMConfig `json:"config"`
}

type aiQueryRequest struct {
	Input   string            `json:"input" binding:"required"`
	History []llm.ChatMessage `json:"history"`
	Lang    string            `json:"lang"`
	Config  *model.LLMConfig  `json:"config"`
}

type aiChatRequest struct {
	Messages []llm.ChatMessage `json:"messages" binding:"required,min=1"`
	Lang     string            `json:"lang"`
	Config   *model.LLMConfig  `json:"config"`
}

func (h *AIHandler) Translate(c *gin.Context) {
	var req aiTranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.nodes.Translate(c.Request.Context(), node.TranslateParams{
		Text:       req.Text,
		TargetLang: req.TargetLang,
		SourceLang: req.SourceLang,
		Lang:       req.Lang,
		Config:     req.Config,
	})
	h.settle(c, node.StageTranslate, res, req.Text)
}

func (h *AIHandler) Polish(c *gin.Context) {
	var req aiPolishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.nodes.Polish(c.Request.Context(), node.PolishParams{
		Text:   req.Text,
		Style:  req.Style,
		Lang:   req.Lang,
		Config: req.Config,
	})
	h.settle(c, node.StagePolish, res, req.Text)
}

func (h *AIHandler) Query(c *gin.Context) {
	var req aiQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.nodes.QueryTransform(c.Request.Context(), node.QueryTransformParams{
		History: req.History,
		Input:   req.Input,
		Lang:    req.Lang,
		Config:  req.Config,
	})
	h.settle(c, node.StageQueryTransform, res, req.Input)
}

func (h *AIHandler) Chat(c *gin.Context) {
	var req aiChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.nodes.Chat(c.Request.Context(), node.ChatParams{
		Messages: req.Messages,
		Lang:     req.Lang,
		Config:   req.Config,
	})
	h.settle(c, node.StageChat, res, "")
}

func (h *AIHandler) ChatStream(c *gin.Context) {
	var req aiChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	stream, err := h.nodes.ChatStream(c.Request.Context(), node.ChatParams{
		Messages: req.Messages,
		Lang:     req.Lang,
		Config:   req.Config,
	}).Unpack()
	if err != nil {
		handleError(c, err)
		return
	}
	startStream(c)
	if _, ok := pipeStream(c, stream); ok {
		endStream(c)
	}
}

// settle applies the stage policy, so an unconfigured translate answers with
// the input rather than an error.
func (h *AIHandler) settle(c *gin.Context, stage node.Stage, res fn.Result[string], input string) {
	out, degraded := h.nodes.Settle(c.Request.Context(), stage, res, input)
	text, err := out.Unpack()
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"text": text, "degraded": degraded})
}
