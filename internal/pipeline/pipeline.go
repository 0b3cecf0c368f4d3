// Package pipeline runs one training job as a fixed sequence of stages:
// load, encode, split, resample, select, search, evaluate, persist and
// record. Each stage only sees what the previous ones produced, and the
// validation partition is never touched before evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"churn-predictor/internal/artifact"
	"churn-predictor/internal/cfg"
	"churn-predictor/internal/common"
	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"
	"churn-predictor/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Stage names a pipeline step.
type Stage string

const (
	StageLoad     Stage = "load"
	StageEncode   Stage = "encode"
	StageSplit    Stage = "split"
	StageResample Stage = "resample"
	StageSelect   Stage = "select"
	StageSearch   Stage = "search"
	StageEvaluate Stage = "evaluate"
	StagePersist  Stage = "persist"
	StageRecord   Stage = "record"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageLoad, StageEncode, StageSplit, StageResample, StageSelect,
	StageSearch, StageEvaluate, StagePersist, StageRecord,
}

// History receives the outcome of every run. *storage.Store satisfies it.
type History interface {
	RecordRun(r storage.RunRecord) error
	StoreCandidates(runID string, scores []ml.CandidateScore) error
}

type Options struct {
	// RunID overrides the generated run id.
	RunID string

	// Now overrides the clock used for timestamps.
	Now func() time.Time

	// History, if set, records the run whether it succeeds or fails.
	History History

	// Workers bounds concurrent grid-search evaluations.
	Workers int

	OnStage       func(Stage)             // called as each stage starts
	OnSearchStart func(candidates int)    // called with the grid size before the search
	OnCandidate   func(ml.CandidateScore) // called once per evaluated grid point
}

// Result describes a completed run.
type Result struct {
	RunID             string
	Artifact          *artifact.Artifact
	ArtifactPath      string
	Checksum          string
	Search            *ml.SearchResult
	Validation        ml.Report
	TrainIndices      []int
	ValidationIndices []int
	TrainCounts       map[int]int // after resampling
	ValidationCounts  map[int]int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// run carries the intermediate products between stages.
type run struct {
	settings cfg.Settings
	opts     Options
	id       string
	started  time.Time

	table   *features.Table
	encoder *features.Encoder
	X       [][]float64

	trainIdx, valIdx []int
	trainX           [][]float64
	trainY           []int
	valX             [][]float64
	valY             []int
	trainRows        int

	selector *ml.Selector
	search   *ml.SearchResult
	art      *artifact.Artifact
	report   ml.Report
	checksum string
}

// Run trains, evaluates and persists one model. On any failure no artifact
// is written and the previous file at ArtifactPath is left intact.
func Run(ctx context.Context, settings cfg.Settings, opts Options) (*Result, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &run{
		settings: settings,
		opts:     opts,
		id:       opts.RunID,
		started:  opts.Now().UTC(),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	logger := log.With().Str("run_id", r.id).Logger()
	logger.Info().
		Str("data", settings.CSVPath).
		Int64("seed", settings.Seed).
		Bool("oversampling", settings.Oversampling).
		Str("scoring", string(settings.Scoring)).
		Int("max_depth", settings.MaxDepth).
		Int("num_features", settings.NumFeaturesClf).
		Msg("training run started")

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageLoad, r.load},
		{StageEncode, r.encode},
		{StageSplit, r.split},
		{StageResample, r.resample},
		{StageSelect, r.selectFeatures},
		{StageSearch, r.searchTree},
		{StageEvaluate, r.evaluate},
		{StagePersist, r.persist},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(s.stage, err)
		}
		if opts.OnStage != nil {
			opts.OnStage(s.stage)
		}
		begin := time.Now()
		if err := s.fn(ctx); err != nil {
			return nil, r.fail(s.stage, err)
		}
		logger.Debug().Str("stage", string(s.stage)).Dur("elapsed", time.Since(begin)).Msg("stage done")
	}

	if opts.OnStage != nil {
		opts.OnStage(StageRecord)
	}
	finished := opts.Now().UTC()
	r.record(storage.RunRecord{
		Status:        storage.RunSucceeded,
		FinishedAt:    finished,
		ArtifactPath:  settings.ArtifactPath,
		Checksum:      r.checksum,
		SchemaVersion: r.art.Schema.Version,
		Params:        r.search.Best,
		CVScore:       r.search.BestScore,
		Validation:    &r.report,
	})

	logger.Info().
		Str("artifact", settings.ArtifactPath).
		Str("checksum", r.checksum).
		Str("params", r.search.Best.String()).
		Float64("cv_score", r.search.BestScore).
		Float64("validation_f1", r.report.F1).
		Dur("elapsed", finished.Sub(r.started)).
		Msg("training run finished")

	return &Result{
		RunID:             r.id,
		Artifact:          r.art,
		ArtifactPath:      settings.ArtifactPath,
		Checksum:          r.checksum,
		Search:            r.search,
		Validation:        r.report,
		TrainIndices:      r.trainIdx,
		ValidationIndices: r.valIdx,
		TrainCounts:       features.ClassCounts(r.trainY),
		ValidationCounts:  features.ClassCounts(r.valY),
		StartedAt:         r.started,
		FinishedAt:        finished,
	}, nil
}

func (r *run) fail(stage Stage, err error) error {
	err = fmt.Errorf("%s: %w", stage, err)
	log.Error().Err(err).Str("run_id", r.id).Str("stage", string(stage)).Msg("training run failed")
	r.record(storage.RunRecord{
		Status:     storage.RunFailed,
		Error:      err.Error(),
		FinishedAt: r.opts.Now().UTC(),
	})
	return err
}

// record fills the fields common to every outcome and writes rec to the
// history, if any. History failures are logged, not returned.
func (r *run) record(rec storage.RunRecord) {
	if r.opts.History == nil {
		return
	}
	rec.ID = r.id
	rec.StartedAt = r.started
	rec.DataPath = r.settings.CSVPath
	rec.Seed = r.settings.Seed
	rec.Scoring = r.settings.Scoring
	if r.table != nil {
		rec.Rows = len(r.table.Rows)
	}
	if err := r.opts.History.RecordRun(rec); err != nil {
		log.Warn().Err(err).Str("run_id", r.id).Msg("failed to record run")
		return
	}
	if r.search != nil {
		if err := r.opts.History.StoreCandidates(r.id, r.search.Candidates); err != nil {
			log.Warn().Err(err).Str("run_id", r.id).Msg("failed to record search candidates")
		}
	}
}

func (r *run) load(context.Context) error {
	t, err := features.LoadCSV(r.settings.CSVPath, r.settings.Codebook)
	if err != nil {
		return err
	}
	r.table = t
	counts := features.ClassCounts(t.Labels)
	log.Info().Int("rows", len(t.Rows)).Int("retained", counts[0]).Int("churned", counts[1]).Msg("class balance")
	return nil
}

// encode fits category vocabularies on every row.
func (r *run) encode(context.Context) error {
	enc, err := features.FitEncoder(r.settings.Codebook, r.table.Rows)
	if err != nil {
		return err
	}
	X, err := enc.TransformTable(r.table)
	if err != nil {
		return err
	}
	r.encoder = enc
	r.X = X
	log.Info().Int("width", enc.Width()).Msg("features encoded")
	return nil
}

func (r *run) split(context.Context) error {
	train, val, err := features.StratifiedSplit(r.table.Labels, r.settings.ValidationFraction, r.settings.Seed)
	if err != nil {
		return &common.DataLoadError{Path: r.table.Path, Err: err}
	}
	r.trainIdx, r.valIdx = train, val
	r.trainX, r.trainY = features.Take(r.X, r.table.Labels, train)
	r.valX, r.valY = features.Take(r.X, r.table.Labels, val)
	r.trainRows = len(train)
	log.Info().Int("train", len(train)).Int("validation", len(val)).Msg("data split")
	return nil
}

// resample touches the training partition only.
func (r *run) resample(context.Context) error {
	X, y, err := ml.Resample(r.trainX, r.trainY, ml.ResampleOptions{
		Enabled:    r.settings.Oversampling,
		Method:     r.settings.OversamplingMethod,
		Neighbours: common.DefaultSMOTENeighbours,
		Seed:       r.settings.Seed,
	})
	if err != nil {
		return err
	}
	r.trainX, r.trainY = X, y
	counts := features.ClassCounts(y)
	log.Info().
		Bool("enabled", r.settings.Oversampling).
		Int("rows", len(y)).
		Int("retained", counts[0]).
		Int("churned", counts[1]).
		Msg("training partition resampled")
	return nil
}

func (r *run) selectFeatures(context.Context) error {
	sel, err := ml.FitSelector(r.trainX, r.trainY, r.encoder.FeatureNames(), r.settings.NumFeaturesClf)
	if err != nil {
		return err
	}
	r.selector = sel
	r.trainX = sel.TransformAll(r.trainX)
	log.Info().Strs("features", sel.Names).Msg("features selected")
	return nil
}

func (r *run) searchTree(ctx context.Context) error {
	space := ml.SearchSpace{
		MaxDepth:       r.settings.MaxDepth,
		Criteria:       r.settings.Criteria,
		MinSamplesLeaf: r.settings.MinSamplesLeaf,
	}
	if r.opts.OnSearchStart != nil {
		r.opts.OnSearchStart(len(space.Candidates()))
	}
	res, err := ml.Search(ctx, r.trainX, r.trainY, space, ml.SearchOptions{
		Folds:       r.settings.CVFolds,
		Seed:        r.settings.Seed,
		Metric:      r.settings.Scoring,
		Threshold:   r.settings.DecisionThreshold,
		Workers:     r.opts.Workers,
		OnCandidate: r.opts.OnCandidate,
	})
	if err != nil {
		return err
	}
	r.search = res
	log.Info().
		Str("params", res.Best.String()).
		Float64("cv_score", res.BestScore).
		Int("candidates", len(res.Candidates)).
		Msg("grid search finished")
	return nil
}

// evaluate scores the held-out partition through the same artifact code
// path the service uses.
func (r *run) evaluate(context.Context) error {
	art, err := artifact.New(r.encoder, r.selector, r.search.Tree, r.settings.DecisionThreshold)
	if err != nil {
		return err
	}
	r.report = ml.Evaluate(r.valY, art.ProbaEncoded(r.valX), r.settings.DecisionThreshold)

	art.RunID = r.id
	art.TrainedAt = r.started
	art.Validation = r.report
	art.Training = artifact.TrainingInfo{
		DataPath:       r.settings.CSVPath,
		Rows:           len(r.table.Rows),
		TrainRows:      r.trainRows,
		ValidationRows: len(r.valIdx),
		ResampledRows:  len(r.trainY),
		ClassCounts:    features.ClassCounts(r.table.Labels),
		Oversampling:   r.settings.Oversampling,
		Seed:           r.settings.Seed,
		CVFolds:        r.settings.CVFolds,
		Scoring:        r.settings.Scoring,
		CVScore:        r.search.BestScore,
	}
	if r.settings.Oversampling {
		art.Training.OversamplingMethod = r.settings.OversamplingMethod
	}
	r.art = art

	log.Info().
		Float64("accuracy", r.report.Accuracy).
		Float64("precision", r.report.Precision).
		Float64("recall", r.report.Recall).
		Float64("f1", r.report.F1).
		Float64("roc_auc", r.report.ROCAUC).
		Msg("validation metrics")
	return nil
}

func (r *run) persist(context.Context) error {
	sum, err := artifact.Save(r.settings.ArtifactPath, r.art)
	if err != nil {
		return err
	}
	r.checksum = sum
	return nil
}

// IsUserError reports whether err stems from configuration or input data
// rather than from the program or the environment.
func IsUserError(err error) bool {
	var ce *common.ConfigError
	var de *common.DataLoadError
	return errors.As(err, &ce) || errors.As(err, &de)
}
