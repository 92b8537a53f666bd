package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/bysensa/csml-engine/handler"
	"github.com/bysensa/csml-engine/internal/crypto"
	"github.com/bysensa/csml-engine/internal/integrations/paramstore"
	"github.com/bysensa/csml-engine/internal/repository"
	"github.com/bysensa/csml-engine/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	sessionsTable := mustEnv("SESSIONS_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	timeIndex := os.Getenv("SESSIONS_TIME_INDEX")
	opTimeout := time.Duration(envInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	secret, err := ssmClient.EncryptionSecret(ctx, paramPrefix)
	if err != nil {
		slog.Error("failed to load encryption secret", "err", err)
		os.Exit(1)
	}
	cipher, err := crypto.New(secret)
	if err != nil {
		slog.Error("failed to create metadata cipher", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), cipher, sessionsTable, timeIndex, opTimeout)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	sessions, err := usecase.NewSessionService(store)
	if err != nil {
		slog.Error("failed to create session service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(sessions)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
