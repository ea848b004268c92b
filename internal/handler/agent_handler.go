package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mnote-agent/internal/agent"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
)

type AgentHandler struct {
	agent *agent.Agent
}

func NewAgentHandler(a *agent.Agent) *AgentHandler {
	return &AgentHandler{agent: a}
}

type askRequest struct {
	Input        string            `json:"input" binding:"required"`
	History      []llm.ChatMessage `json:"history"`
	Tags         []string          `json:"tags"`
	Lang         string            `json:"lang"`
	Config       *model.LLMConfig  `json:"config"`
	GenerateNote bool              `json:"generate_note"`
	SaveNote     bool              `json:"save_note"`
	NoteTags     []string          `json:"note_tags"`
}

func (r askRequest) toAgent() agent.Request {
	return agent.Request{
		Input:        r.Input,
		History:      r.History,
		Tags:         r.Tags,
		Lang:         r.Lang,
		Config:       r.Config,
		GenerateNote: r.GenerateNote,
		SaveNote:     r.SaveNote,
		NoteTags:     r.NoteTags,
	}
}

func noteError(resp agent.Response) string {
	if resp.NoteErr == nil {
		return ""
	}
	_, msg := classify(resp.NoteErr)
	return msg
}

func (h *AgentHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.agent.Run(c.Request.Context(), req.toAgent()).Unpack()
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"query":      resp.Query,
		"context":    resp.Context,
		"answer":     resp.Answer,
		"note":       resp.Note,
		"note_id":    resp.NoteID,
		"note_error": noteError(resp),
		"degraded":   resp.Degraded,
	})
}

// AskStream sends the retrieved context first, then the answer chunks, then
// the note when one was requested.
func (h *AgentHandler) AskStream(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	areq := req.toAgent()
	sr, err := h.agent.RunStream(ctx, areq).Unpack()
	if err != nil {
		handleError(c, err)
		return
	}
	startStream(c)
	c.SSEvent(response.EventContext, gin.H{
		"query":    sr.Query,
		"context":  sr.Context,
		"degraded": sr.Degraded,
	})
	c.Writer.Flush()

	answer, ok := pipeStream(c, sr.Stream)
	if !ok {
		return
	}
	if areq.GenerateNote || areq.SaveNote {
		resp := h.agent.Finish(ctx, areq, sr, answer)
		c.SSEvent(response.EventNote, gin.H{
			"note":       resp.Note,
			"note_id":    resp.NoteID,
			"note_error": noteError(resp),
		})
	}
	endStream(c)
}
