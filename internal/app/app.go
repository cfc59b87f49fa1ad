package app

import (
	"context"
	"log/slog"

	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/aggregator"
	httpapp "github.com/rishabh19bvp/Opinify-MVP-V3/internal/app/http"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/config"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/geo"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/handlers"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/identity"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/middleware"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/notify"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/repo/postgres"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/services"
)

type App struct {
	HTTPServer *httpapp.App
	Voting     *services.PollVoting
	storage    *postgres.Storage
}

func NewApp(log *slog.Logger, cfg *config.Config) *App {
	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		panic(err)
	}

	// Ward boundaries change only via administrative loads, so the index is
	// built once at startup.
	wards, err := storage.GetWards(context.Background())
	if err != nil {
		panic(err)
	}
	wardIndex, err := geo.NewIndex(wards)
	if err != nil {
		panic(err)
	}

	tallyCache := aggregator.New(log, storage)
	hub := notify.NewHub(log)

	verifier := identity.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	votingService := services.NewPollVoting(
		log,
		storage,
		storage,
		tallyCache,
		hub,
		wardIndex,
		cfg.Vote.CommitRetries,
		cfg.Vote.RetryBackoff,
	)

	votingHandler := handlers.NewVotingHandler(votingService)
	liveHandler := handlers.NewLiveTallyHandler(log, votingService)

	httpApp := httpapp.NewApp(log, cfg.HTTP.Port, votingHandler, liveHandler, authMiddleware.Middleware())

	return &App{
		HTTPServer: httpApp,
		Voting:     votingService,
		storage:    storage,
	}
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.HTTPServer.Stop(ctx); err != nil {
		return err
	}
	return a.storage.Close()
}
