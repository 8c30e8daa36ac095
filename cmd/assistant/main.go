package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"voicecore/internal/assistant"
	"voicecore/internal/config"
	"voicecore/internal/logger"
	"voicecore/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()
	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a := assistant.New(cfg, store)
	defer a.Close()

	conversationID := uuid.NewString()
	logger.Info().Str("conversation", conversationID).Msg("assistant ready")

	fmt.Println("Voice command assistant. Type a command, \"export\" to dump context, or \"exit\".")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye.")
			return nil
		case "export":
			data, err := a.ExportContext(ctx, conversationID)
			if err != nil {
				fmt.Println("export failed:", err)
				continue
			}
			fmt.Println(string(data))
			continue
		}

		res, err := a.Process(ctx, conversationID, line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(res.Message)
		if len(res.SuggestedActions) > 0 {
			fmt.Println("  (suggestions: " + strings.Join(res.SuggestedActions, ", ") + ")")
		}
		for _, step := range res.ChainResults {
			status := "ok"
			switch {
			case step.Skipped:
				status = "skipped"
			case !step.Success:
				status = "failed"
			}
			fmt.Printf("  step %d [%s] %s: %s\n", step.Index+1, status, step.Intent, step.Message)
		}
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return config.LoadFile(path)
	}
	return config.Load()
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.ConversationStore, func(), error) {
	if cfg.Redis.URL != "" {
		rs, err := storage.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Msg("using redis conversation store")
		return rs, func() { _ = rs.Close() }, nil
	}
	logger.Info().Msg("using in-memory conversation store")
	return storage.NewMemoryStore(cfg.Redis.TTL), func() {}, nil
}
