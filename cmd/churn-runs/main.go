package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"churn-predictor/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type args struct {
	DB    string `arg:"--db,required" help:"run history database (history_path in the config)"`
	Limit int    `arg:"-n,--limit" default:"20" help:"number of most recent runs to list, 0 for all"`
	Run   string `arg:"-r,--run" help:"show one run with its grid search candidates"`
	JSON  bool   `arg:"--json" help:"print JSON instead of a table"`
}

func (args) Description() string {
	return "churn-runs lists recorded training runs."
}

func main() {
	var a args
	arg.MustParse(&a)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if _, err := os.Stat(a.DB); err != nil {
		log.Fatal().Err(err).Str("db", a.DB).Msg("run history not found")
	}
	store, err := storage.New(a.DB)
	if err != nil {
		log.Fatal().Err(err).Str("db", a.DB).Msg("failed to open run history")
	}
	defer store.Close()

	if a.Run != "" {
		if err := showRun(store, a.Run, a.JSON); err != nil {
			log.Error().Err(err).Msg("failed to show run")
			store.Close()
			os.Exit(1)
		}
		return
	}

	runs, err := store.ListRuns(a.Limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		store.Close()
		os.Exit(1)
	}
	if a.JSON {
		printJSON(runs)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tROWS\tPARAMS\tCV\tVAL F1\tERROR")
	for _, r := range runs {
		valF1 := "-"
		if r.Validation != nil {
			valF1 = fmt.Sprintf("%.4f", r.Validation.F1)
		}
		params := "-"
		if r.Status == storage.RunSucceeded {
			params = r.Params.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%.4f\t%s\t%s\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
			r.Rows, params, r.CVScore, valF1, r.Error)
	}
	w.Flush()
}

func showRun(store *storage.Store, id string, asJSON bool) error {
	run, ok, err := store.GetRun(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	candidates, err := store.GetCandidates(id)
	if err != nil {
		return err
	}

	if asJSON {
		printJSON(map[string]any{"run": run, "candidates": candidates})
		return nil
	}

	fmt.Printf("Run:       %s (%s)\n", run.ID, run.Status)
	fmt.Printf("Data:      %s (%d rows, seed %d)\n", run.DataPath, run.Rows, run.Seed)
	fmt.Printf("Started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("Duration:  %s\n", run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Printf("Error:     %s\n", run.Error)
	}
	if run.Status == storage.RunSucceeded {
		fmt.Printf("Artifact:  %s (%s)\n", run.ArtifactPath, run.Checksum)
		fmt.Printf("Schema:    %s\n", run.SchemaVersion)
		fmt.Printf("Best:      %s, CV %s %.4f\n", run.Params, run.Scoring, run.CVScore)
	}

	if len(candidates) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PARAMS\tMEAN\tSTD\tFOLDS")
		for _, c := range candidates {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%v\n", c.Params, c.Mean, c.Std, c.FoldScores)
		}
		w.Flush()
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode output")
	}
}
