package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lsherwin/chalkboard/internal/db"
	"github.com/lsherwin/chalkboard/internal/models"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const consolidationTimeout = 60 * time.Second

// consolidationDue reports whether a conversation's message count crosses
// a consolidation threshold: exactly 5, then every 10 thereafter.
func consolidationDue(messageCount int) bool {
	if messageCount == 5 {
		return true
	}
	return messageCount > 5 && (messageCount-5)%10 == 0
}

// consolidationAction is one model-issued verdict on a stored memory.
type consolidationAction struct {
	ID      int64   `json:"id"`
	Action  string  `json:"action"` // keep, delete, merge, or update
	IDs     []int64 `json:"ids,omitempty"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content,omitempty"`
}

// consolidateMemories deduplicates and merges the user's stored memories
// via a one-shot model call. It runs detached from the request that
// triggered it; every failure on this path is logged and swallowed, never
// surfaced to the user.
func (s *Service) consolidateMemories(userID, conversationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), consolidationTimeout)
	defer cancel()

	count, err := s.db.CountMessages(conversationID)
	if err != nil {
		s.logger.Warn("consolidation: failed to count messages", zap.Error(err))
		return
	}
	if !consolidationDue(count) {
		return
	}

	memories, err := s.db.GetMemories(userID)
	if err != nil {
		s.logger.Warn("consolidation: failed to load memories", zap.Error(err))
		return
	}
	if len(memories) < 2 {
		return
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, s.oneShot, consolidationPrompt(memories))
	if err != nil {
		s.logger.Warn("consolidation: completion call failed", zap.Error(err))
		return
	}

	actions, err := parseConsolidationActions(completion)
	if err != nil {
		s.logger.Warn("consolidation: failed to parse actions", zap.Error(err))
		return
	}

	if err := s.applyConsolidation(userID, memories, actions); err != nil {
		s.logger.Warn("consolidation: some actions failed", zap.Error(err))
		return
	}

	s.logger.Info("memory consolidation completed",
		zap.Int64("userID", userID),
		zap.Int("memories", len(memories)),
		zap.Int("actions", len(actions)))
}

func consolidationPrompt(memories []models.Memory) string {
	var b strings.Builder
	b.WriteString(`These are memories saved about a student. Classify each one:
- "keep" if it is still useful as is
- "delete" if it is stale or useless
- "update" if its content should be rewritten (provide "content", optional "title")
- "merge" to combine duplicates into one (provide "ids", "content", optional "title")

Memories:
`)
	for _, m := range memories {
		entry, _ := json.Marshal(map[string]any{"id": m.ID, "title": m.Title, "content": m.Content})
		b.Write(entry)
		b.WriteString("\n")
	}
	b.WriteString(`
Respond with only a JSON array, e.g.
[{"id":1,"action":"keep"},{"id":2,"action":"update","content":"..."},{"action":"merge","ids":[3,4],"content":"..."}]`)
	return b.String()
}

// parseConsolidationActions pulls a JSON array out of the reply, which may
// be wrapped in markdown fences or surrounding prose.
func parseConsolidationActions(reply string) ([]consolidationAction, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var actions []consolidationAction
	if err := json.Unmarshal([]byte(reply[start:end+1]), &actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions: %w", err)
	}
	return actions, nil
}

func (s *Service) applyConsolidation(userID int64, memories []models.Memory, actions []consolidationAction) error {
	byID := make(map[int64]models.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	var errs error
	for _, a := range actions {
		switch a.Action {
		case "keep", "":
			// Nothing to do.

		case "delete":
			if err := s.db.DeleteMemory(userID, a.ID); err != nil && err != db.ErrNotFound {
				errs = multierr.Append(errs, fmt.Errorf("delete memory %d: %w", a.ID, err))
			}

		case "update":
			if a.Content == "" {
				continue
			}
			title := a.Title
			if title == "" {
				title = byID[a.ID].Title
			}
			if err := s.db.UpdateMemory(userID, a.ID, title, a.Content); err != nil && err != db.ErrNotFound {
				errs = multierr.Append(errs, fmt.Errorf("update memory %d: %w", a.ID, err))
			}

		case "merge":
			if len(a.IDs) < 2 || a.Content == "" {
				continue
			}
			for _, id := range a.IDs {
				if err := s.db.DeleteMemory(userID, id); err != nil && err != db.ErrNotFound {
					errs = multierr.Append(errs, fmt.Errorf("merge delete memory %d: %w", id, err))
				}
			}
			if _, err := s.db.CreateMemory(userID, a.Title, a.Content); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("merge create memory: %w", err))
			}

		default:
			errs = multierr.Append(errs, fmt.Errorf("unknown action %q for memory %d", a.Action, a.ID))
		}
	}
	return errs
}
