package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lsherwin/chalkboard/internal/config"
	"github.com/lsherwin/chalkboard/internal/db"
	"github.com/lsherwin/chalkboard/internal/llm"
	"go.uber.org/zap"
)

type Handler struct {
	db     *db.Database
	llm    *llm.Service
	cfg    *config.Config
	logger *zap.Logger
}

func NewHandler(database *db.Database, llmService *llm.Service, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		llm:    llmService,
		cfg:    cfg,
		logger: logger,
	}
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type MemoryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// HandleChat is the caller-facing chat endpoint:
// {model_id, image_model_id?, messages, conversation_id?} in,
// {content, speech_content, conversation_id} or {error} out.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.llm.Chat(r.Context(), user.ID, req)
	if err != nil {
		var upstream *llm.UpstreamError
		switch {
		case errors.Is(err, llm.ErrEmptyMessages):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, db.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "conversation not found")
		case errors.As(err, &upstream):
			h.logger.Error("completion API failed",
				zap.Int("status", upstream.StatusCode),
				zap.Int64("userID", user.ID))
			h.writeError(w, http.StatusBadGateway, upstream.Body)
		default:
			h.logger.Error("failed to process chat", zap.Error(err), zap.Int64("userID", user.ID))
			h.writeError(w, http.StatusInternalServerError, "failed to process chat")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	switch r.Method {
	case http.MethodGet:
		conversations, err := h.db.GetConversations(user.ID)
		if err != nil {
			h.logger.Error("failed to get conversations", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, conversations)

	case http.MethodPost:
		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Title == "" {
			req.Title = "New conversation"
		}
		conversation, err := h.db.CreateConversation(user.ID, req.Title)
		if err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, conversation)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	messages, err := h.db.GetMessages(user.ID, convID, 200)
	if err == db.ErrNotFound {
		h.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	err = h.db.DeleteConversation(user.ID, convID)
	if err == db.ErrNotFound {
		h.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "title required")
		return
	}

	err = h.db.RenameConversation(user.ID, convID, req.Title)
	if err == db.ErrNotFound {
		h.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to update conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Memories(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	switch r.Method {
	case http.MethodGet:
		memories, err := h.db.GetMemories(user.ID)
		if err != nil {
			h.logger.Error("failed to get memories", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, memories)

	case http.MethodPost:
		var req MemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			h.writeError(w, http.StatusBadRequest, "content required")
			return
		}
		memory, err := h.db.CreateMemory(user.ID, req.Title, req.Content)
		if err != nil {
			h.logger.Error("failed to create memory", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, memory)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query required")
		return
	}

	memories, err := h.db.SearchMemories(user.ID, query)
	if err != nil {
		h.logger.Error("failed to search memories", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, memories)
}

func (h *Handler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	memID, err := strconv.ParseInt(r.URL.Query().Get("memory_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid memory ID")
		return
	}

	var req MemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "content required")
		return
	}

	err = h.db.UpdateMemory(user.ID, memID, req.Title, req.Content)
	if err == db.ErrNotFound {
		h.writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to update memory", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r)

	memID, err := strconv.ParseInt(r.URL.Query().Get("memory_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid memory ID")
		return
	}

	err = h.db.DeleteMemory(user.ID, memID)
	if err == db.ErrNotFound {
		h.writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete memory", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}
