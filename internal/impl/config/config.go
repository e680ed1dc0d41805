package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	GatewayURL   string
	GatewayToken string
	SessionKey   string
	DataDir      string
	logger       *zap.Logger
}

var (
	configInstance *Config
	once           sync.Once
)

func InitConfig() (*Config, error) {
	var initErr error

	once.Do(func() {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		logger, err := config.Build()
		if err != nil {
			logger = zap.NewNop()
			initErr = fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()

		// Load .env file
		if err := godotenv.Load(); err != nil {
			if os.IsNotExist(err) {
				logger.Debug("No .env file found; falling back to system environment variables")
			} else {
				initErr = fmt.Errorf("failed to load .env file: %w", err)
				logger.Error("Config file load error", zap.Error(err))
				return
			}
		} else {
			logger.Debug("Successfully loaded .env file")
		}

		gatewayURL := os.Getenv("COVE_GATEWAY_URL")
		if gatewayURL == "" {
			gatewayURL = "ws://127.0.0.1:4560/gateway"
		}

		sessionKey := os.Getenv("COVE_SESSION")
		if sessionKey == "" {
			sessionKey = "main"
		}

		dataDir := os.Getenv("COVE_DATA_DIR")
		if dataDir == "" {
			dataDir, err = os.Getwd()
			if err != nil {
				initErr = fmt.Errorf("failed to resolve data directory: %w", err)
				return
			}
		}

		configInstance = &Config{
			GatewayURL:   gatewayURL,
			GatewayToken: os.Getenv("COVE_GATEWAY_TOKEN"),
			SessionKey:   sessionKey,
			DataDir:      dataDir,
			logger:       logger,
		}
	})

	if initErr != nil {
		return nil, initErr
	}
	if configInstance == nil {
		return nil, fmt.Errorf("configuration initialization failed unexpectedly")
	}

	return configInstance, nil
}
