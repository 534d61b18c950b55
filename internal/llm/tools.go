package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lsherwin/chalkboard/internal/db"
	"go.uber.org/zap"
)

// toolContext carries the per-request state tool handlers operate on.
// All persistence writes are scoped to userID.
type toolContext struct {
	userID         int64
	conversationID int64
	imageModel     string

	// placeholders maps opaque tokens to generated image URLs/data URIs,
	// substituted into the final text after the loop terminates.
	placeholders map[string]string
}

func newToolContext(userID, conversationID int64, imageModel string) *toolContext {
	return &toolContext{
		userID:         userID,
		conversationID: conversationID,
		imageModel:     imageModel,
		placeholders:   map[string]string{},
	}
}

// toolSchemas describes the callable tools in the completion API's
// function-tool format.
func toolSchemas() []map[string]any {
	return []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "save_memory",
				"description": "Save a fact about the student that will help in future tutoring sessions, such as their goals, preferences, or recurring difficulties.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":   map[string]any{"type": "string", "description": "Short label for the memory"},
						"content": map[string]any{"type": "string", "description": "The fact to remember"},
					},
					"required": []string{"content"},
				},
			},
		},
		{
			"type": "function",
			"function": map[string]any{
				"name":        "rename_conversation",
				"description": "Give the current conversation a better title once its topic is clear.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{"type": "string", "description": "The new conversation title"},
					},
					"required": []string{"title"},
				},
			},
		},
		{
			"type": "function",
			"function": map[string]any{
				"name":        "generate_image",
				"description": "Generate an illustrative image for the whiteboard, such as a diagram or figure.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"prompt": map[string]any{"type": "string", "description": "Description of the image to generate"},
					},
					"required": []string{"prompt"},
				},
			},
		},
	}
}

// dispatchTool parses one invocation's arguments and runs its handler.
// Malformed argument JSON degrades to an empty object; handler failures
// come back as {ok:false, error} results so the loop can continue.
func (s *Service) dispatchTool(ctx context.Context, tc *toolContext, call ToolCall) map[string]any {
	args := map[string]any{}
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			s.logger.Warn("malformed tool arguments, substituting empty object",
				zap.String("tool", call.Function.Name),
				zap.Error(err))
			args = map[string]any{}
		}
	}

	switch call.Function.Name {
	case "save_memory":
		return s.saveMemoryTool(tc, args)
	case "rename_conversation":
		return s.renameConversationTool(tc, args)
	case "generate_image":
		return s.generateImageTool(ctx, tc, args)
	default:
		return map[string]any{"ok": false, "error": "unknown tool: " + call.Function.Name}
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func (s *Service) saveMemoryTool(tc *toolContext, args map[string]any) map[string]any {
	content := strings.TrimSpace(stringArg(args, "content"))
	if content == "" {
		return map[string]any{"ok": false, "error": "content required"}
	}
	title := strings.TrimSpace(stringArg(args, "title"))

	mem, err := s.db.CreateMemory(tc.userID, title, content)
	if err != nil {
		s.logger.Error("failed to save memory", zap.Error(err), zap.Int64("userID", tc.userID))
		return map[string]any{"ok": false, "error": "failed to save memory"}
	}
	return map[string]any{"ok": true, "memory_id": mem.ID}
}

func (s *Service) renameConversationTool(tc *toolContext, args map[string]any) map[string]any {
	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return map[string]any{"ok": false, "error": "title required"}
	}
	if tc.conversationID == 0 {
		return map[string]any{"ok": false, "error": "conversationId missing"}
	}

	err := s.db.RenameConversation(tc.userID, tc.conversationID, title)
	if err == db.ErrNotFound {
		return map[string]any{"ok": false, "error": "conversation not found"}
	}
	if err != nil {
		s.logger.Error("failed to rename conversation", zap.Error(err),
			zap.Int64("conversationID", tc.conversationID))
		return map[string]any{"ok": false, "error": "failed to rename conversation"}
	}
	return map[string]any{"ok": true, "title": title}
}

func (s *Service) generateImageTool(ctx context.Context, tc *toolContext, args map[string]any) map[string]any {
	prompt := strings.TrimSpace(stringArg(args, "prompt"))
	if prompt == "" {
		return map[string]any{"ok": false, "error": "prompt required"}
	}

	url, err := s.client.GenerateImage(ctx, tc.imageModel, prompt, s.cfg.Completion.ImageEndpoint)
	if err != nil {
		s.logger.Warn("image generation failed", zap.Error(err))
		return map[string]any{"ok": false, "error": err.Error()}
	}

	token := newImagePlaceholder()
	tc.placeholders[token] = url
	return map[string]any{
		"ok":          true,
		"placeholder": token,
		"instruction": "Reference the image in the display section as markdown: ![description](" + token + ")",
	}
}
