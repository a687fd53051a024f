package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nichenerd-service/internal/agent"
	"nichenerd-service/internal/app"
	"nichenerd-service/internal/config"
	"nichenerd-service/internal/identity"
	"nichenerd-service/internal/infra/memory"
	redisinfra "nichenerd-service/internal/infra/redis"
	transport "nichenerd-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Agent.BaseURL == "" {
		return errors.New("agent.base_url is required")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	sessionTTL := config.TTLDuration(cfg.Session.TTL, time.Hour)

	var identityStore identity.Store
	var transcripts app.TranscriptStore
	if redisClient != nil {
		identityStore = redisinfra.NewIdentityStore(redisClient, redisTTL)
		transcripts = redisinfra.NewTranscriptStore(redisClient, sessionTTL)
	} else {
		identityStore = memory.NewIdentityStore()
		transcripts = memory.NewTranscriptStore(sessionTTL)
	}

	caller := agent.NewHTTPCaller(cfg.Agent.BaseURL, cfg.Agent.APIKey,
		config.TTLDuration(cfg.Agent.Timeout, 0))

	wsHandler := transport.NewWSHandler(transport.Config{
		Identities:       identity.NewManager(identityStore),
		Caller:           caller,
		Transcripts:      transcripts,
		QuizAgentID:      cfg.Agent.QuizAgentID,
		ScorecardAgentID: cfg.Agent.ScorecardAgentID,
		DownloadTimeout:  30 * time.Second,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/scorecard/download", wsHandler.ServeDownload)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting nichenerd service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
