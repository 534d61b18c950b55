package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/lsherwin/chalkboard/internal/models"
	"github.com/tmc/langchaingo/llms"
)

// fakeOneShot scripts the single-prompt model used by consolidation and
// title generation.
type fakeOneShot struct {
	reply string
	err   error
	calls int
}

func (f *fakeOneShot) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeOneShot) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestConsolidationDue(t *testing.T) {
	tests := []struct {
		count int
		want  bool
	}{
		{0, false}, {1, false}, {4, false}, {5, true}, {6, false},
		{10, false}, {14, false}, {15, true}, {16, false},
		{25, true}, {35, true}, {24, false},
	}
	for _, tt := range tests {
		if got := consolidationDue(tt.count); got != tt.want {
			t.Errorf("consolidationDue(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestParseConsolidationActions(t *testing.T) {
	fenced := "Here is my assessment:\n```json\n[{\"id\":1,\"action\":\"keep\"},{\"action\":\"merge\",\"ids\":[2,3],\"content\":\"merged\"}]\n```\nDone."
	actions, err := parseConsolidationActions(fenced)
	if err != nil {
		t.Fatalf("parseConsolidationActions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	if actions[0].Action != "keep" || actions[0].ID != 1 {
		t.Errorf("first action = %+v", actions[0])
	}
	if actions[1].Action != "merge" || len(actions[1].IDs) != 2 {
		t.Errorf("second action = %+v", actions[1])
	}

	if _, err := parseConsolidationActions("no json here"); err == nil {
		t.Error("expected error for reply without a JSON array")
	}
	if _, err := parseConsolidationActions("[{bad json]"); err == nil {
		t.Error("expected error for malformed array")
	}
}

func seedConversation(t *testing.T, svc *Service, userID, convID int64, messageCount int) {
	t.Helper()
	for i := 0; i < messageCount; i++ {
		msg := &models.Message{ConvID: convID, Role: "user", Content: fmt.Sprintf("message %d", i)}
		if err := svc.db.SaveMessage(msg); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
}

func TestConsolidateMemoriesMergeAndUpdate(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)
	seedConversation(t, svc, user.ID, conv.ID, 5)

	m1, _ := database.CreateMemory(user.ID, "", "likes chess")
	m2, _ := database.CreateMemory(user.ID, "", "prefers diagrams")
	m3, _ := database.CreateMemory(user.ID, "", "prefers visual diagrams")

	fake := &fakeOneShot{reply: fmt.Sprintf("```json\n[{\"id\":%d,\"action\":\"update\",\"content\":\"loves chess\"},{\"action\":\"merge\",\"ids\":[%d,%d],\"title\":\"Learning style\",\"content\":\"prefers visual diagrams\"}]\n```", m1.ID, m2.ID, m3.ID)}
	svc.oneShot = fake

	svc.consolidateMemories(user.ID, conv.ID)

	if fake.calls != 1 {
		t.Fatalf("one-shot calls = %d, want 1", fake.calls)
	}

	memories, err := database.GetMemories(user.ID)
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("memories = %d, want 2 after merge", len(memories))
	}

	byContent := map[string]models.Memory{}
	for _, m := range memories {
		byContent[m.Content] = m
	}
	if _, ok := byContent["loves chess"]; !ok {
		t.Error("update action not applied")
	}
	merged, ok := byContent["prefers visual diagrams"]
	if !ok || merged.Title != "Learning style" {
		t.Errorf("merge result = %+v", merged)
	}
}

func TestConsolidateMemoriesSkipsBelowThreshold(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)
	seedConversation(t, svc, user.ID, conv.ID, 4)

	database.CreateMemory(user.ID, "", "a")
	database.CreateMemory(user.ID, "", "b")

	fake := &fakeOneShot{reply: "[]"}
	svc.oneShot = fake

	svc.consolidateMemories(user.ID, conv.ID)
	if fake.calls != 0 {
		t.Errorf("one-shot calls = %d, want 0 below threshold", fake.calls)
	}
}

func TestConsolidateMemoriesSkipsWithOneMemory(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)
	seedConversation(t, svc, user.ID, conv.ID, 5)

	database.CreateMemory(user.ID, "", "only one")

	fake := &fakeOneShot{reply: "[]"}
	svc.oneShot = fake

	svc.consolidateMemories(user.ID, conv.ID)
	if fake.calls != 0 {
		t.Errorf("one-shot calls = %d, want 0 with fewer than two memories", fake.calls)
	}
}

func TestConsolidateMemoriesSwallowsFailures(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)
	seedConversation(t, svc, user.ID, conv.ID, 5)

	database.CreateMemory(user.ID, "", "a")
	database.CreateMemory(user.ID, "", "b")

	// A dead model, then an unparsable reply: neither may panic or
	// mutate anything.
	svc.oneShot = &fakeOneShot{err: fmt.Errorf("network down")}
	svc.consolidateMemories(user.ID, conv.ID)

	svc.oneShot = &fakeOneShot{reply: "I refuse to answer in JSON."}
	svc.consolidateMemories(user.ID, conv.ID)

	memories, err := database.GetMemories(user.ID)
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(memories) != 2 {
		t.Errorf("memories = %d, want 2 untouched", len(memories))
	}
}
