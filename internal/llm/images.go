package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
)

// imageResponse is a superset of the reply shapes the known image
// providers produce. Which portion is populated depends on the provider
// and endpoint.
type imageResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage   `json:"content"`
			Images  []json.RawMessage `json:"images"`
		} `json:"message"`
	} `json:"choices"`

	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`

	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *inlineData `json:"inline_data"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
}

// GenerateImage asks the image model for one image and returns its URL or
// data URI. endpoint selects between a chat-completion-shaped call with a
// modalities hint ("chat") and the dedicated generation endpoint ("images").
func (c *Client) GenerateImage(ctx context.Context, model, prompt, endpoint string) (string, error) {
	var (
		body []byte
		err  error
	)
	if endpoint == "images" {
		body, err = c.post(ctx, "/images/generations", imageGenerationRequest{Model: model, Prompt: prompt, N: 1})
	} else {
		body, err = c.post(ctx, "/chat/completions", completionRequest{
			Model:      model,
			Messages:   []Turn{{Role: "user", Content: prompt}},
			Modalities: []string{"image", "text"},
		})
	}
	if err != nil {
		return "", err
	}

	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode image response: %w", err)
	}
	return extractImageURL(&resp)
}

// imageShapeMatchers probe the response for an image reference, in order;
// the first match wins. Unmatched shapes are a handled failure.
var imageShapeMatchers = []func(*imageResponse) (string, bool){
	fromMessageImages,
	fromDataArray,
	fromCandidateParts,
	fromMessageContent,
}

func extractImageURL(resp *imageResponse) (string, error) {
	for _, match := range imageShapeMatchers {
		if url, ok := match(resp); ok {
			return url, nil
		}
	}
	return "", fmt.Errorf("no image URL found in response")
}

// fromMessageImages reads choices[0].message.images[]. Entries can be a
// bare string, {image_url:{url}}, {url}, or {b64_json}.
func fromMessageImages(resp *imageResponse) (string, bool) {
	if len(resp.Choices) == 0 {
		return "", false
	}
	for _, raw := range resp.Choices[0].Message.Images {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}

		var entry struct {
			ImageURL *struct {
				URL string `json:"url"`
			} `json:"image_url"`
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		switch {
		case entry.ImageURL != nil && entry.ImageURL.URL != "":
			return entry.ImageURL.URL, true
		case entry.URL != "":
			return entry.URL, true
		case entry.B64JSON != "":
			return b64DataURI("image/png", entry.B64JSON), true
		}
	}
	return "", false
}

// fromDataArray reads the dedicated-endpoint shape: data[] of {url} or
// {b64_json}.
func fromDataArray(resp *imageResponse) (string, bool) {
	for _, d := range resp.Data {
		if d.URL != "" {
			return d.URL, true
		}
		if d.B64JSON != "" {
			return b64DataURI("image/png", d.B64JSON), true
		}
	}
	return "", false
}

// fromCandidateParts reads the native candidates[0].content.parts[] shape
// carrying inline_data.{mime_type,data}.
func fromCandidateParts(resp *imageResponse) (string, bool) {
	if len(resp.Candidates) == 0 {
		return "", false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return b64DataURI(mime, part.InlineData.Data), true
		}
	}
	return "", false
}

var (
	dataURIRe       = regexp2.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`, 0)
	markdownImageRe = regexp2.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`, 0)
	bareURLRe       = regexp2.MustCompile(`https?://[^\s<>"']+`, 0)
)

// fromMessageContent searches the message's own content: a literal data
// URI, a markdown image reference, or a bare URL when content is a string;
// per-part probes when content is an array.
func fromMessageContent(resp *imageResponse) (string, bool) {
	if len(resp.Choices) == 0 {
		return "", false
	}
	raw := resp.Choices[0].Message.Content
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return urlFromText(s)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}
	for _, p := range parts {
		if url, ok := urlFromContentPart(p); ok {
			return url, true
		}
	}
	return "", false
}

func urlFromText(s string) (string, bool) {
	for _, re := range []*regexp2.Regexp{dataURIRe, markdownImageRe, bareURLRe} {
		m, err := re.FindStringMatch(s)
		if err != nil || m == nil {
			continue
		}
		if m.GroupCount() > 1 {
			return m.GroupByNumber(1).String(), true
		}
		return m.String(), true
	}
	return "", false
}

func urlFromContentPart(raw json.RawMessage) (string, bool) {
	var part struct {
		ImageURL json.RawMessage `json:"image_url"`
		URL      string          `json:"url"`
		Source   *struct {
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		} `json:"source"`
		InlineData *inlineData `json:"inline_data"`
	}
	if err := json.Unmarshal(raw, &part); err != nil {
		return "", false
	}

	if len(part.ImageURL) > 0 {
		var s string
		if err := json.Unmarshal(part.ImageURL, &s); err == nil && s != "" {
			return s, true
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(part.ImageURL, &obj); err == nil && obj.URL != "" {
			return obj.URL, true
		}
	}
	if part.URL != "" {
		return part.URL, true
	}
	if part.Source != nil && part.Source.Data != "" {
		mime := part.Source.MediaType
		if mime == "" {
			mime = "image/png"
		}
		return b64DataURI(mime, part.Source.Data), true
	}
	if part.InlineData != nil && part.InlineData.Data != "" {
		mime := part.InlineData.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return b64DataURI(mime, part.InlineData.Data), true
	}
	return "", false
}

func b64DataURI(mime, data string) string {
	return "data:" + mime + ";base64," + data
}

// newImagePlaceholder mints an opaque token that stands in for a generated
// image so large payloads never re-enter the model's context.
func newImagePlaceholder() string {
	return "[[chalkboard-image:" + uuid.NewString() + "]]"
}

// substitutePlaceholders replaces every placeholder token with its stored
// URL or data URI. Literal replacement makes a second pass a no-op.
func substitutePlaceholders(text string, placeholders map[string]string) string {
	for token, url := range placeholders {
		text = strings.ReplaceAll(text, token, url)
	}
	return text
}
