package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/covehq/cove/internal/domain/services"
	"github.com/covehq/cove/internal/impl/config"
	"github.com/covehq/cove/internal/impl/gateway"
	repositoriesJson "github.com/covehq/cove/internal/impl/repositories/json"
	"github.com/covehq/cove/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

var (
	version = "unknown" // This should be set during build with -ldflags="-X main.version=1.0.0"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version)
		os.Exit(0)
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cove [--session=key] [--gateway=url]\n")
		flag.PrintDefaults()
	}
	sessionFlag := flag.String("session", "", "Session key (overrides COVE_SESSION)")
	gatewayFlag := flag.String("gateway", "", "Gateway WebSocket URL (overrides COVE_GATEWAY_URL)")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.InitConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *sessionFlag != "" {
		cfg.SessionKey = *sessionFlag
	}
	if *gatewayFlag != "" {
		cfg.GatewayURL = *gatewayFlag
	}

	queueRepo, err := repositoriesJson.NewJSONQueueRepository(cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize queue repository", zap.Error(err))
	}

	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, logger)
	defer gw.Close()

	chatService := services.NewChatService(gw, queueRepo, logger)
	if err := chatService.InitChat(context.Background()); err != nil {
		logger.Fatal("Failed to initialize chat", zap.Error(err))
	}
	defer chatService.CleanupChat()

	// A failed first dial is not fatal: the client reconnects in the
	// background and queued messages flush once it succeeds.
	if err := gw.Connect(context.Background()); err != nil {
		logger.Warn("Gateway not reachable, starting offline", zap.Error(err))
	}

	p := tea.NewProgram(tui.NewTUI(chatService, cfg.SessionKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Fatal("UI failed", zap.Error(err))
	}
}
