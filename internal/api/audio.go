package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// transcriptionTimeout aborts transcription uploads that the upstream
// never finishes; the primary chat path has no such client-side deadline.
const transcriptionTimeout = 45 * time.Second

// Transcribe proxies an audio upload to the upstream transcription
// endpoint and relays the reply untouched.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.cfg.Audio.TranscriptionURL == "" {
		h.writeError(w, http.StatusNotImplemented, "transcription is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), transcriptionTimeout)
	defer cancel()

	h.proxyAudio(ctx, w, r, h.cfg.Audio.TranscriptionURL)
}

// Speech proxies a text-to-speech request to the upstream endpoint.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.cfg.Audio.SpeechURL == "" {
		h.writeError(w, http.StatusNotImplemented, "speech is not configured")
		return
	}

	h.proxyAudio(r.Context(), w, r, h.cfg.Audio.SpeechURL)
}

func (h *Handler) proxyAudio(ctx context.Context, w http.ResponseWriter, r *http.Request, upstream string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, r.Body)
	if err != nil {
		h.logger.Error("failed to create upstream request", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	req.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	req.Header.Set("Authorization", "Bearer "+h.cfg.Completion.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.logger.Error("audio upstream request failed", zap.Error(err), zap.String("upstream", upstream))
		h.writeError(w, http.StatusBadGateway, "audio upstream unavailable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn("failed to relay audio response", zap.Error(err))
	}
}
