package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churn-predictor/internal/cfg"
	"churn-predictor/internal/ml"
	"churn-predictor/internal/pipeline"
	"churn-predictor/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Config     string `arg:"-c,--config" help:"YAML config file (default $CHURN_CONFIG_FILE, then config.yaml)"`
	EnvFile    string `arg:"--env-file" default:".env" help:"dotenv file applied before the config is read"`
	NoProgress bool   `arg:"--no-progress" help:"disable the grid search progress bar"`
	Workers    int    `arg:"--workers" help:"concurrent grid search evaluations, 0 for one per CPU"`
}

func (args) Description() string {
	return "churn-train fits the employee churn classifier described by a config file and writes one model artifact."
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

	settings, err := cfg.Load(a.Config)
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		return 2
	}
	zerolog.SetGlobalLevel(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := pipeline.Options{Workers: a.Workers}

	if settings.HistoryPath != "" {
		store, err := storage.New(settings.HistoryPath)
		if err != nil {
			log.Warn().Err(err).Str("path", settings.HistoryPath).Msg("run history unavailable, continuing without it")
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	var bar *pb.ProgressBar
	if !a.NoProgress && isTerminal(os.Stderr) {
		opts.OnSearchStart = func(n int) {
			bar = pb.New(n)
			bar.SetWriter(os.Stderr)
			bar.Start()
		}
		opts.OnCandidate = func(ml.CandidateScore) {
			bar.Increment()
		}
	}

	res, err := pipeline.Run(ctx, settings, opts)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		log.Error().Err(err).Msg("training failed")
		if pipeline.IsUserError(err) {
			return 2
		}
		return 1
	}

	printSummary(res)
	return 0
}

func printSummary(res *pipeline.Result) {
	art := res.Artifact
	fmt.Println("=== Training Summary ===")
	fmt.Printf("Run:            %s\n", res.RunID)
	fmt.Printf("Artifact:       %s\n", res.ArtifactPath)
	fmt.Printf("Checksum:       %s\n", res.Checksum)
	fmt.Printf("Schema:         %s\n", art.Schema.Version)
	fmt.Printf("Features:       %v\n", art.Selector.Names)
	fmt.Printf("Best params:    %s\n", res.Search.Best)
	fmt.Printf("CV score:       %s %.4f\n", res.Search.Metric, res.Search.BestScore)
	fmt.Printf("Validation:     accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f roc_auc=%.4f\n",
		res.Validation.Accuracy, res.Validation.Precision, res.Validation.Recall, res.Validation.F1, res.Validation.ROCAUC)
	fmt.Printf("Confusion:      %v\n", res.Validation.Confusion)
	fmt.Printf("Elapsed:        %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
