package main

import (
	"encoding/json"
	"fmt"
	"os"

	"churn-predictor/internal/features"
	"churn-predictor/internal/synth"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	Out         string  `arg:"-o,--out" default:"data/aug_train.csv" help:"CSV file to write"`
	Rows        int     `arg:"-n,--rows" default:"5000" help:"number of employees"`
	ChurnRate   float64 `arg:"--churn-rate" default:"0.25" help:"share of employees labelled as leaving"`
	MissingRate float64 `arg:"--missing-rate" default:"0.1" help:"chance that an optional field is empty"`
	Seed        int64   `arg:"--seed" default:"1" help:"random seed"`
	Request     string  `arg:"--request" help:"also write the first row as a /predict request body to this file"`
}

func main() {
	var a args
	arg.MustParse(&a)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fmt.Printf("Generating synthetic HR data...\n")
	fmt.Printf("  Rows: %d\n", a.Rows)
	fmt.Printf("  Churn rate: %.2f\n", a.ChurnRate)
	fmt.Printf("  Output: %s\n", a.Out)

	tbl, err := synth.WriteFile(a.Out, synth.Options{
		Rows:        a.Rows,
		ChurnRate:   a.ChurnRate,
		MissingRate: a.MissingRate,
		Seed:        a.Seed,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate data")
	}

	counts := features.ClassCounts(tbl.Labels)
	fmt.Printf("Wrote %d rows (%d retained, %d leaving)\n", len(tbl.Rows), counts[0], counts[1])

	if a.Request != "" {
		raw, err := json.MarshalIndent(synth.Request(tbl.Rows[0]), "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to encode request")
		}
		if err := os.WriteFile(a.Request, append(raw, '\n'), 0o644); err != nil {
			log.Fatal().Err(err).Str("path", a.Request).Msg("failed to write request")
		}
		fmt.Printf("Wrote sample request to %s\n", a.Request)
	}
}
