package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"arena-server/internal/config"
	"arena-server/internal/duel"
	"arena-server/internal/httpapi"
	"arena-server/internal/tournament"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	arena := duel.New(ctx, duel.Config{
		StartDelay: cfg.StartDelay,
		TurnDelay:  cfg.TurnDelay,
	}, logger.Named("duel"))
	tour := tournament.New(ctx, tournament.Config{
		StartDelay: cfg.StartDelay,
		TurnDelay:  cfg.TurnDelay,
		ResetDelay: cfg.ResetDelay,
	}, logger.Named("tournament"))

	handler := httpapi.SetupRoutes(arena, tour, cfg.StaticDir, logger)

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
