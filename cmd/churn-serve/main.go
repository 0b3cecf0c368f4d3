package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churn-predictor/internal/cfg"
	"churn-predictor/internal/server"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Config   string `arg:"-c,--config" help:"YAML config file; its artifact_path and server_port are used"`
	Artifact string `arg:"-a,--artifact" help:"serve this artifact directly, without a config file"`
	Port     int    `arg:"-p,--port" help:"listen port, overrides config and environment"`
	EnvFile  string `arg:"--env-file" default:".env" help:"dotenv file applied before the config is read"`
}

func (args) Description() string {
	return "churn-serve answers churn predictions over HTTP from a trained model artifact."
}

func main() {
	os.Exit(run())
}

func run() int {
	var a args
	arg.MustParse(&a)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(a.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", a.EnvFile).Msg("failed to read env file")
	}

	var (
		settings cfg.Settings
		err      error
	)
	if a.Artifact != "" && a.Config == "" {
		settings, err = cfg.ServeDefaults()
	} else {
		settings, err = cfg.Load(a.Config)
	}
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		return 2
	}
	zerolog.SetGlobalLevel(settings.LogLevel)

	if a.Artifact != "" {
		settings.ArtifactPath = a.Artifact
	}
	if a.Port != 0 {
		settings.ServerPort = a.Port
	}

	srv := server.New(server.Config{Port: settings.ServerPort, ArtifactPath: settings.ArtifactPath})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prediction server failed")
			return 1
		}
		return 0
	}

	log.Info().Msg("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return 1
	}
	log.Info().Msg("server stopped")
	return 0
}
