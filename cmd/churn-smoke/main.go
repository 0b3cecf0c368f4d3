package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"churn-predictor/internal/client"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	URL     string        `arg:"-u,--url" default:"http://localhost:5000" help:"prediction service base URL"`
	Sample  string        `arg:"-s,--sample" default:"examples/api_sample.json" help:"JSON file with one employee record"`
	Explain bool          `arg:"-e,--explain" help:"ask for and print the decision path"`
	Timeout time.Duration `arg:"--timeout" default:"5s" help:"request timeout"`
}

func (args) Description() string {
	return "churn-smoke sends a sample employee to a running churn-serve and reports whether they look loyal."
}

func main() {
	var a args
	arg.MustParse(&a)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	raw, err := os.ReadFile(a.Sample)
	if err != nil {
		log.Fatal().Err(err).Str("sample", a.Sample).Msg("failed to read sample")
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		log.Fatal().Err(err).Str("sample", a.Sample).Msg("sample is not a JSON object")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	c := client.New(a.URL, a.Timeout)
	health, err := c.Health(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("url", a.URL).Msg("service unreachable")
	}
	if health.State != "ready" {
		log.Fatal().Str("state", health.State).Str("error", health.Error).Msg("service is not ready")
	}

	resp, err := c.Predict(ctx, fields, client.PredictOptions{Explain: a.Explain, SchemaVersion: health.SchemaVersion})
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}

	who := "employee"
	if resp.EnrolleeID != "" {
		who = "employee " + resp.EnrolleeID
	}
	if resp.Churn {
		fmt.Printf("The %s is likely to leave (churn probability %.3f > %.2f).\n", who, resp.Probability, resp.Threshold)
	} else {
		fmt.Printf("The %s is loyal (churn probability %.3f <= %.2f).\n", who, resp.Probability, resp.Threshold)
	}
	for _, step := range resp.Path {
		fmt.Printf("  %s = %g %s %g\n", step.Feature, step.Value, step.Op, step.Threshold)
	}
	fmt.Printf("model run %s, schema %s, request %s\n", resp.ModelRunID, resp.SchemaVersion, resp.RequestID)
}
