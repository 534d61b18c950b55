package main

import (
	"flag"
	"net/http"

	"github.com/lsherwin/chalkboard/internal/api"
	"github.com/lsherwin/chalkboard/internal/config"
	"github.com/lsherwin/chalkboard/internal/db"
	"github.com/lsherwin/chalkboard/internal/llm"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	if cfg.BootstrapToken != "" {
		if _, err := database.EnsureUser("default", cfg.BootstrapToken); err != nil {
			logger.Fatal("failed to bootstrap default user", zap.Error(err))
		}
	}

	llmService, err := llm.New(cfg, database, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	handler := api.NewHandler(database, llmService, cfg, logger)

	http.HandleFunc("/api/chat", handler.RequireUser(handler.HandleChat))
	http.HandleFunc("/api/conversations", handler.RequireUser(handler.Conversations))
	http.HandleFunc("/api/conversations/update", handler.RequireUser(handler.UpdateConversation))
	http.HandleFunc("/api/conversations/delete", handler.RequireUser(handler.DeleteConversation))
	http.HandleFunc("/api/messages", handler.RequireUser(handler.GetMessages))
	http.HandleFunc("/api/memories", handler.RequireUser(handler.Memories))
	http.HandleFunc("/api/memories/search", handler.RequireUser(handler.SearchMemories))
	http.HandleFunc("/api/memories/update", handler.RequireUser(handler.UpdateMemory))
	http.HandleFunc("/api/memories/delete", handler.RequireUser(handler.DeleteMemory))
	http.HandleFunc("/api/audio/transcribe", handler.RequireUser(handler.Transcribe))
	http.HandleFunc("/api/audio/speech", handler.RequireUser(handler.Speech))

	// Serve static files
	fs := http.FileServer(http.Dir(cfg.WebDir))
	http.Handle("/", fs)

	logger.Info("Starting server", zap.String("listen", cfg.Listen))
	if err := http.ListenAndServe(cfg.Listen, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
