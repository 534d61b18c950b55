package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeImageResponse(t *testing.T, raw string) *imageResponse {
	t.Helper()
	var resp imageResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}
	return &resp
}

func TestExtractImageURLShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"message images string entry",
			`{"choices":[{"message":{"images":["https://cdn.example/img.png"]}}]}`,
			"https://cdn.example/img.png",
		},
		{
			"message images image_url entry",
			`{"choices":[{"message":{"images":[{"image_url":{"url":"https://cdn.example/a.png"}}]}}]}`,
			"https://cdn.example/a.png",
		},
		{
			"message images url entry",
			`{"choices":[{"message":{"images":[{"url":"https://cdn.example/b.png"}]}}]}`,
			"https://cdn.example/b.png",
		},
		{
			"message images b64 entry",
			`{"choices":[{"message":{"images":[{"b64_json":"QUJD"}]}}]}`,
			"data:image/png;base64,QUJD",
		},
		{
			"data array url",
			`{"data":[{"url":"https://cdn.example/c.png"}]}`,
			"https://cdn.example/c.png",
		},
		{
			"data array b64",
			`{"data":[{"b64_json":"REVG"}]}`,
			"data:image/png;base64,REVG",
		},
		{
			"candidate inline data",
			`{"candidates":[{"content":{"parts":[{"inline_data":{"mime_type":"image/jpeg","data":"R0hJ"}}]}}]}`,
			"data:image/jpeg;base64,R0hJ",
		},
		{
			"content data uri",
			`{"choices":[{"message":{"content":"here you go data:image/png;base64,SktM done"}}]}`,
			"data:image/png;base64,SktM",
		},
		{
			"content markdown image",
			`{"choices":[{"message":{"content":"![diagram](https://cdn.example/d.png)"}}]}`,
			"https://cdn.example/d.png",
		},
		{
			"content bare url",
			`{"choices":[{"message":{"content":"image at https://cdn.example/e.png"}}]}`,
			"https://cdn.example/e.png",
		},
		{
			"content part image_url object",
			`{"choices":[{"message":{"content":[{"type":"image_url","image_url":{"url":"https://cdn.example/f.png"}}]}}]}`,
			"https://cdn.example/f.png",
		},
		{
			"content part source base64",
			`{"choices":[{"message":{"content":[{"type":"image","source":{"media_type":"image/webp","data":"TU5P"}}]}}]}`,
			"data:image/webp;base64,TU5P",
		},
		{
			"content part inline data",
			`{"choices":[{"message":{"content":[{"inline_data":{"mime_type":"image/png","data":"UFFS"}}]}}]}`,
			"data:image/png;base64,UFFS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractImageURL(decodeImageResponse(t, tt.raw))
			if err != nil {
				t.Fatalf("extractImageURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractImageURLPrecedence(t *testing.T) {
	// message.images wins over everything else.
	raw := `{
		"choices":[{"message":{"images":["https://cdn.example/first.png"],"content":"https://cdn.example/second.png"}}],
		"data":[{"url":"https://cdn.example/third.png"}]
	}`
	got, err := extractImageURL(decodeImageResponse(t, raw))
	if err != nil {
		t.Fatalf("extractImageURL: %v", err)
	}
	if got != "https://cdn.example/first.png" {
		t.Errorf("got %q, want the message.images entry", got)
	}
}

func TestExtractImageURLNoMatch(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"sorry, I cannot draw that"}}]}`
	_, err := extractImageURL(decodeImageResponse(t, raw))
	if err == nil {
		t.Fatal("expected an error for a response without an image")
	}
	if !strings.Contains(err.Error(), "no image URL found") {
		t.Errorf("error = %v, want 'no image URL found'", err)
	}
}

func TestSubstitutePlaceholdersIdempotent(t *testing.T) {
	token := newImagePlaceholder()
	placeholders := map[string]string{token: "https://cdn.example/img.png"}
	text := "See ![diagram](" + token + ") above."

	once := substitutePlaceholders(text, placeholders)
	if strings.Contains(once, token) {
		t.Errorf("placeholder still present after substitution: %q", once)
	}
	if !strings.Contains(once, "https://cdn.example/img.png") {
		t.Errorf("url missing after substitution: %q", once)
	}

	twice := substitutePlaceholders(once, placeholders)
	if twice != once {
		t.Errorf("substitution is not idempotent: %q vs %q", once, twice)
	}
}

func TestPlaceholderTokensUnique(t *testing.T) {
	if newImagePlaceholder() == newImagePlaceholder() {
		t.Error("placeholder tokens must be unique")
	}
}
