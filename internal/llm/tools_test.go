package llm

import (
	"context"
	"testing"
)

func makeCall(name, args string) ToolCall {
	var call ToolCall
	call.ID = "call_test"
	call.Type = "function"
	call.Function.Name = name
	call.Function.Arguments = args
	return call
}

func TestDispatchMalformedArguments(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, _, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	for _, args := range []string{`{not json`, `[1,2,3`, `"`, `{"content": }`} {
		result := svc.dispatchTool(context.Background(), tc, makeCall("save_memory", args))
		// Arguments degrade to {}, so the handler sees a blank content.
		if result["ok"] != false || result["error"] != "content required" {
			t.Errorf("args %q: result = %v", args, result)
		}
	}
}

func TestSaveMemoryTool(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	result := svc.dispatchTool(context.Background(), tc, makeCall("save_memory", `{"content":"   "}`))
	if result["ok"] != false || result["error"] != "content required" {
		t.Errorf("blank content: result = %v", result)
	}

	result = svc.dispatchTool(context.Background(), tc, makeCall("save_memory", `{"title":"Style","content":"likes worked examples"}`))
	if result["ok"] != true {
		t.Fatalf("result = %v", result)
	}

	memories, err := database.GetMemories(user.ID)
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("memories = %d, want exactly 1", len(memories))
	}
	if memories[0].Title != "Style" || memories[0].Content != "likes worked examples" {
		t.Errorf("memory = %+v", memories[0])
	}
}

func TestRenameConversationTool(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)

	tc := newToolContext(user.ID, conv.ID, "img-model")
	result := svc.dispatchTool(context.Background(), tc, makeCall("rename_conversation", `{"title":""}`))
	if result["error"] != "title required" {
		t.Errorf("blank title: result = %v", result)
	}

	noConv := newToolContext(user.ID, 0, "img-model")
	result = svc.dispatchTool(context.Background(), noConv, makeCall("rename_conversation", `{"title":"New"}`))
	if result["error"] != "conversationId missing" {
		t.Errorf("missing conversation: result = %v", result)
	}

	result = svc.dispatchTool(context.Background(), tc, makeCall("rename_conversation", `{"title":"Fractions deep dive"}`))
	if result["ok"] != true {
		t.Fatalf("result = %v", result)
	}
	got, _ := database.GetConversation(user.ID, conv.ID)
	if got.Title != "Fractions deep dive" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestRenameConversationToolForeignUser(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, database, user, conv := newTestService(t, upstream.srv.URL)

	mallory, err := database.EnsureUser("mallory", "tok-mallory")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	tc := newToolContext(mallory.ID, conv.ID, "img-model")
	result := svc.dispatchTool(context.Background(), tc, makeCall("rename_conversation", `{"title":"hijacked"}`))
	if result["ok"] != false || result["error"] != "conversation not found" {
		t.Errorf("result = %v", result)
	}

	// No row mutated.
	got, err := database.GetConversation(user.ID, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Algebra basics" {
		t.Errorf("title mutated to %q", got.Title)
	}
}

func TestGenerateImageTool(t *testing.T) {
	imageReply := `{"choices":[{"message":{"images":[{"image_url":{"url":"https://cdn.example/plot.png"}}]}}]}`
	upstream := newScriptedUpstream(t, imageReply)
	svc, _, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	result := svc.dispatchTool(context.Background(), tc, makeCall("generate_image", `{"prompt":""}`))
	if result["error"] != "prompt required" {
		t.Errorf("blank prompt: result = %v", result)
	}

	result = svc.dispatchTool(context.Background(), tc, makeCall("generate_image", `{"prompt":"a parabola"}`))
	if result["ok"] != true {
		t.Fatalf("result = %v", result)
	}
	token, _ := result["placeholder"].(string)
	if token == "" {
		t.Fatal("missing placeholder token")
	}
	if tc.placeholders[token] != "https://cdn.example/plot.png" {
		t.Errorf("placeholder maps to %q", tc.placeholders[token])
	}
}

func TestGenerateImageToolUpstreamFailure(t *testing.T) {
	upstream := newScriptedUpstream(t, `{"error":"quota exceeded"}`)
	upstream.status = 429
	svc, _, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	result := svc.dispatchTool(context.Background(), tc, makeCall("generate_image", `{"prompt":"anything"}`))
	if result["ok"] != false {
		t.Fatalf("result = %v", result)
	}
	if result["error"] == "" {
		t.Error("upstream failure must propagate as an error string")
	}
}

func TestGenerateImageToolNoImageFound(t *testing.T) {
	upstream := newScriptedUpstream(t, `{"choices":[{"message":{"content":"cannot help"}}]}`)
	svc, _, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	result := svc.dispatchTool(context.Background(), tc, makeCall("generate_image", `{"prompt":"anything"}`))
	if result["ok"] != false {
		t.Fatalf("result = %v", result)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	upstream := newScriptedUpstream(t, plainReply)
	svc, _, user, conv := newTestService(t, upstream.srv.URL)
	tc := newToolContext(user.ID, conv.ID, "img-model")

	result := svc.dispatchTool(context.Background(), tc, makeCall("launch_rocket", `{}`))
	if result["ok"] != false {
		t.Errorf("result = %v", result)
	}
}
