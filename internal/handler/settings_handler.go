package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
	"github.com/xxxsen/mnote-agent/internal/settings"
)

var errInvalidChatType = errors.New("chat_type must be llm or vlm")

type SettingsHandler struct {
	store *settings.Store
}

func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// settingsPatch changes only the fields present in the request body.
type settingsPatch struct {
	ChatModel      *string `json:"chat_model"`
	ChatType       *string `json:"chat_type"`
	EmbeddingModel *string `json:"embedding_model"`
	BaseURL        *string `json:"base_url"`
	APIKey         *string `json:"api_key"`
}

func (h *SettingsHandler) Get(c *gin.Context) {
	response.Success(c, h.store.GetSettingsSync().Redacted())
}

func (h *SettingsHandler) Update(c *gin.Context) {
	var req settingsPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ChatType != nil && *req.ChatType != "" && *req.ChatType != model.ChatTypeLLM && *req.ChatType != model.ChatTypeVLM {
		badRequest(c, errInvalidChatType)
		return
	}
	updated := h.store.Update(func(s *settings.Settings) {
		assign(&s.Chat.Model, req.ChatModel)
		assign(&s.Chat.Type, req.ChatType)
		assign(&s.Embedding.Model, req.EmbeddingModel)
		assign(&s.BaseURL, req.BaseURL)
		assign(&s.APIKey, req.APIKey)
	})
	requestLogger(c).Info("settings updated",
		zap.String("chat_model", updated.Chat.Model),
		zap.String("embedding_model", updated.Embedding.Model))
	response.Success(c, updated.Redacted())
}

func assign(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
