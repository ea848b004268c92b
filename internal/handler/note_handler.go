package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
	"github.com/xxxsen/mnote-agent/internal/service"
)

type NoteHandler struct {
	notes *service.NoteService
}

func NewNoteHandler(notes *service.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

type noteSearchItem struct {
	model.Note
	Score float64 `json:"score"`
}

func (h *NoteHandler) Create(c *gin.Context) {
	var req service.NoteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	note, err := h.notes.Create(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, note)
}

func (h *NoteHandler) Update(c *gin.Context) {
	var req service.NoteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	note, err := h.notes.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, note)
}

func (h *NoteHandler) Delete(c *gin.Context) {
	if err := h.notes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

func (h *NoteHandler) Get(c *gin.Context) {
	note, err := h.notes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, note)
}

func (h *NoteHandler) List(c *gin.Context) {
	notes, err := h.notes.List(c.Request.Context(), queryUint(c, "limit"), queryUint(c, "offset"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": notes})
}

// Search takes q and a comma separated tags list; a note must carry every
// tag to match.
func (h *NoteHandler) Search(c *gin.Context) {
	matches, err := h.notes.Search(c.Request.Context(), c.Query("q"), splitList(c.Query("tags")), queryUint(c, "limit"))
	if err != nil {
		handleError(c, err)
		return
	}
	items := make([]noteSearchItem, 0, len(matches))
	for _, m := range matches {
		items = append(items, noteSearchItem{Note: m.Note, Score: m.Score})
	}
	response.Success(c, gin.H{"items": items})
}
