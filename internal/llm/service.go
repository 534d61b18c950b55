package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lsherwin/chalkboard/internal/config"
	"github.com/lsherwin/chalkboard/internal/db"
	"github.com/lsherwin/chalkboard/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// maxCompletionCalls bounds the tool loop for a single request. The loop
// terminates even if the model never stops requesting tools.
const maxCompletionCalls = 3

// ErrEmptyMessages is returned when a chat request carries no turns.
var ErrEmptyMessages = fmt.Errorf("messages required")

type Service struct {
	cfg    *config.Config
	db     *db.Database
	logger *zap.Logger
	client *Client

	// oneShot serves single-prompt side calls: title generation and
	// memory consolidation.
	oneShot llms.LLM
}

func New(cfg *config.Config, database *db.Database, logger *zap.Logger) (*Service, error) {
	if cfg.Completion.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required")
	}

	oneShot, err := openai.New(
		openai.WithToken(cfg.Completion.APIKey),
		openai.WithBaseURL(cfg.Completion.BaseURL),
		openai.WithModel(cfg.Completion.DefaultModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}

	return &Service{
		cfg:     cfg,
		db:      database,
		logger:  logger,
		client:  NewClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, logger),
		oneShot: oneShot,
	}, nil
}

// Chat runs one full tutoring exchange: resolve the conversation, persist
// the user turn, drive the tool loop, split the reply into speech and
// display channels, and persist the assistant turn. Memory consolidation
// is triggered afterwards, detached from this request.
func (s *Service) Chat(ctx context.Context, userID int64, req ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessages
	}
	last := req.Messages[len(req.Messages)-1]

	var (
		conv *models.Conversation
		err  error
	)
	if req.ConversationID != 0 {
		conv, err = s.db.GetConversation(userID, req.ConversationID)
		if err != nil {
			return nil, err
		}
	} else {
		conv, err = s.db.CreateConversation(userID, s.generateTitle(ctx, last.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	userMsg := &models.Message{ConvID: conv.ID, Role: "user", Content: last.Content}
	if err := s.db.SaveMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	memories, err := s.db.GetMemories(userID)
	if err != nil {
		// Memories enrich the prompt but are not worth failing the chat over.
		s.logger.Warn("failed to load memories", zap.Error(err), zap.Int64("userID", userID))
		memories = nil
	}

	turns := make([]Turn, 0, len(req.Messages)+1)
	turns = append(turns, Turn{Role: "system", Content: buildSystemPrompt(memories)})
	for _, m := range req.Messages {
		if m.Role == "system" {
			// Caller-supplied system turns are discarded in favor of the
			// generated one.
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	turns = trimToBudget(turns, s.cfg.HistoryTokenBudget)

	tc := newToolContext(userID, conv.ID, s.cfg.ResolveImageModel(req.ImageModelID))
	raw, err := s.runLoop(ctx, s.cfg.ResolveModel(req.ModelID), turns, tc)
	if err != nil {
		return nil, err
	}

	split := SplitSpeechDisplay(raw)
	display := substitutePlaceholders(split.Display, tc.placeholders)
	speech := substitutePlaceholders(split.Speech, tc.placeholders)

	assistantMsg := &models.Message{
		ConvID:        conv.ID,
		Role:          "assistant",
		Content:       display,
		SpeechContent: speech,
	}
	if err := s.db.SaveMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	if err := s.db.TouchConversation(userID, conv.ID); err != nil {
		s.logger.Warn("failed to touch conversation", zap.Error(err))
	}

	// Fire-and-forget; its outcome never affects this response.
	go s.consolidateMemories(userID, conv.ID)

	return &ChatResult{
		Content:        display,
		SpeechContent:  speech,
		ConversationID: conv.ID,
	}, nil
}

// runLoop drives the bounded tool-calling state machine. Each iteration
// sends the full turn sequence; a reply with tool calls appends the
// assistant turn (opaque reasoning fields preserved) followed by one tool
// turn per invocation, in invocation order; a reply without tool calls is
// terminal. On reaching the cap, the last produced content is returned,
// which may be empty.
func (s *Service) runLoop(ctx context.Context, model string, turns []Turn, tc *toolContext) (string, error) {
	var lastContent string

	for iteration := 0; iteration < maxCompletionCalls; iteration++ {
		msg, err := s.client.ChatCompletion(ctx, completionRequest{
			Model:       model,
			Messages:    turns,
			Tools:       toolSchemas(),
			ToolChoice:  "auto",
			Temperature: s.cfg.Completion.Temperature,
		})
		if err != nil {
			return "", err
		}

		lastContent = FlattenContent(msg.Content)
		calls := msg.invocations()
		if len(calls) == 0 {
			return lastContent, nil
		}

		s.logger.Info("executing tool calls",
			zap.Int("count", len(calls)),
			zap.Int("iteration", iteration))

		turns = append(turns, Turn{
			Role:             "assistant",
			Content:          lastContent,
			ToolCalls:        calls,
			Reasoning:        msg.Reasoning,
			ReasoningDetails: msg.ReasoningDetails,
		})
		for _, call := range calls {
			result := s.dispatchTool(ctx, tc, call)
			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"ok":false,"error":"unencodable tool result"}`)
			}
			turns = append(turns, Turn{
				Role:       "tool",
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}
	}

	s.logger.Warn("tool loop cap reached, returning last content",
		zap.Int("cap", maxCompletionCalls))
	return lastContent, nil
}

func buildSystemPrompt(memories []models.Memory) string {
	var b strings.Builder
	b.WriteString(`You are Chalkboard, a patient and encouraging AI tutor.
Explain concepts step by step, check understanding, and adapt to the student.

Format every reply with two sections:
- Wrap what should be spoken aloud in <speech>...</speech>. Keep it
  conversational and free of markdown or formulas.
- Wrap what belongs on the whiteboard in <display>...</display>. Use
  markdown there: headings, lists, code, formulas, and images.

You can call tools to save a memory about the student, rename the
conversation, or generate an image for the whiteboard. When a tool returns
an image placeholder, reference it in the display section exactly as
instructed.`)

	if len(memories) > 0 {
		b.WriteString("\n\nWhat you remember about this student:\n")
		for _, m := range memories {
			if m.Title != "" {
				b.WriteString(fmt.Sprintf("- %s: %s\n", m.Title, m.Content))
			} else {
				b.WriteString(fmt.Sprintf("- %s\n", m.Content))
			}
		}
	}
	return b.String()
}

// generateTitle asks for a short conversation title via a one-shot call.
// Best effort; failures fall back to a truncated first message.
func (s *Service) generateTitle(ctx context.Context, firstMessage string) string {
	prompt := fmt.Sprintf(`Suggest a title of at most six words for a tutoring conversation that starts with:

%s

Respond with only the title.`, firstMessage)

	completion, err := llms.GenerateFromSinglePrompt(ctx, s.oneShot, prompt)
	if err != nil {
		s.logger.Warn("failed to generate title", zap.Error(err))
		return truncateRunes(strings.TrimSpace(firstMessage), 60)
	}

	title := strings.TrimSpace(completion)
	if strings.HasPrefix(title, "\"") && strings.HasSuffix(title, "\"") && len(title) > 1 {
		title = title[1 : len(title)-1]
	}
	if title == "" {
		return truncateRunes(strings.TrimSpace(firstMessage), 60)
	}
	return truncateRunes(title, 80)
}
