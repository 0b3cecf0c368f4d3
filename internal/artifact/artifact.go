// Package artifact bundles everything inference needs into one immutable
// value: the fitted encoder, the frozen feature selection, the tree and the
// decision threshold. The training pipeline and the prediction service both
// predict through Artifact.Predict, so a reloaded artifact answers exactly
// as the in-memory one did.
package artifact

import (
	"errors"
	"fmt"
	"time"

	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"
)

// Format identifies the on-disk envelope layout.
const Format = "churn-predictor/artifact/v1"

// TrainingInfo records how the artifact was produced.
type TrainingInfo struct {
	DataPath           string            `json:"data_path"`
	Rows               int               `json:"rows"`
	TrainRows          int               `json:"train_rows"`
	ValidationRows     int               `json:"validation_rows"`
	ResampledRows      int               `json:"resampled_rows"`
	ClassCounts        map[int]int       `json:"class_counts"`
	Oversampling       bool              `json:"oversampling"`
	OversamplingMethod ml.ResampleMethod `json:"oversampling_method,omitempty"`
	Seed               int64             `json:"seed"`
	CVFolds            int               `json:"cv_folds"`
	Scoring            ml.Metric         `json:"scoring"`
	CVScore            float64           `json:"cv_score"`
}

// Artifact is a trained pipeline. Build one with New or Load; the zero
// value cannot predict.
type Artifact struct {
	RunID      string            `json:"run_id"`
	TrainedAt  time.Time         `json:"trained_at"`
	Schema     features.Schema   `json:"schema"`
	Codebook   features.Codebook `json:"codebook"`
	Selector   *ml.Selector      `json:"selector"`
	Tree       *ml.Tree          `json:"tree"`
	Threshold  float64           `json:"threshold"`
	Params     ml.TreeParams     `json:"params"`
	Training   TrainingInfo      `json:"training"`
	Validation ml.Report         `json:"validation"`

	encoder     *features.Encoder
	importances []Importance
}

// Importance is the share of impurity decrease attributed to one selected
// feature.
type Importance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// PathStep is one split test applied to a request.
type PathStep struct {
	Feature   string  `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Op        string  `json:"op"`
}

// Prediction is the outcome for one employee record.
type Prediction struct {
	Probability float64      `json:"probability"`
	Decision    int          `json:"decision"`
	Path        []PathStep   `json:"path,omitempty"`
	Leaf        int          `json:"leaf"`
	Importances []Importance `json:"importances"`
}

// New assembles an artifact from freshly fitted parts and checks that they
// agree with each other.
func New(enc *features.Encoder, sel *ml.Selector, tree *ml.Tree, threshold float64) (*Artifact, error) {
	if enc == nil || sel == nil || tree == nil {
		return nil, errors.New("artifact needs an encoder, a selector and a tree")
	}
	schema, err := features.NewSchema(enc)
	if err != nil {
		return nil, err
	}
	a := &Artifact{
		Schema:    schema,
		Codebook:  enc.Codebook(),
		Selector:  sel,
		Tree:      tree,
		Threshold: threshold,
		Params:    tree.Params,
	}
	if err := a.bind(); err != nil {
		return nil, err
	}
	return a, nil
}

// bind rebuilds the encoder from the stored codebook and checks every part
// against its neighbours.
func (a *Artifact) bind() error {
	if a.Selector == nil || a.Tree == nil {
		return errors.New("artifact is missing its selector or tree")
	}
	if a.Threshold <= 0 || a.Threshold >= 1 {
		return fmt.Errorf("decision threshold %v outside (0, 1)", a.Threshold)
	}
	if err := a.Codebook.Validate(); err != nil {
		return fmt.Errorf("codebook: %w", err)
	}
	enc, err := features.NewEncoder(a.Codebook)
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if err := a.Schema.Verify(enc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := a.Selector.Validate(enc.Width()); err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	if err := a.Tree.Validate(); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	if a.Tree.NFeatures != a.Selector.K {
		return fmt.Errorf("tree expects %d features, selector keeps %d", a.Tree.NFeatures, a.Selector.K)
	}

	raw := a.Tree.FeatureImportances()
	imps := make([]Importance, len(raw))
	for i, v := range raw {
		imps[i] = Importance{Feature: a.Selector.Names[i], Importance: v}
	}
	a.encoder = enc
	a.importances = imps
	return nil
}

// Importances returns the tree's feature importances keyed by selected
// feature name, in selection order.
func (a *Artifact) Importances() []Importance {
	return append([]Importance(nil), a.importances...)
}

// Predict scores one raw record. Errors are *common.ValidationError.
func (a *Artifact) Predict(r features.Record, explain bool) (Prediction, error) {
	if err := a.Schema.Validate(r); err != nil {
		return Prediction{}, err
	}
	x, err := a.encoder.Transform(r)
	if err != nil {
		return Prediction{}, err
	}
	return a.PredictEncoded(x, explain), nil
}

// PredictEncoded scores one already encoded vector.
func (a *Artifact) PredictEncoded(x []float64, explain bool) Prediction {
	selected := a.Selector.Transform(x)
	steps, leaf := a.Tree.DecisionPath(selected)
	p := Prediction{
		Probability: a.Tree.Nodes[leaf].Probability(),
		Leaf:        leaf,
		Importances: a.Importances(),
	}
	if p.Probability > a.Threshold {
		p.Decision = 1
	}
	if explain {
		p.Path = make([]PathStep, len(steps))
		for i, s := range steps {
			op := ">"
			if s.WentLeft {
				op = "<="
			}
			p.Path[i] = PathStep{
				Feature:   a.Selector.Names[s.Feature],
				Threshold: s.Threshold,
				Value:     s.Value,
				Op:        op,
			}
		}
	}
	return p
}

// ProbaEncoded scores many encoded rows.
func (a *Artifact) ProbaEncoded(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = a.Tree.PredictProba(a.Selector.Transform(x))
	}
	return out
}

// Info is a compact description for status endpoints and logs.
type Info struct {
	RunID            string        `json:"run_id"`
	TrainedAt        time.Time     `json:"trained_at"`
	SchemaVersion    string        `json:"schema_version"`
	Threshold        float64       `json:"threshold"`
	Params           ml.TreeParams `json:"params"`
	Depth            int           `json:"depth"`
	Leaves           int           `json:"leaves"`
	SelectedFeatures []string      `json:"selected_features"`
	Training         TrainingInfo  `json:"training"`
	Validation       ml.Report     `json:"validation"`
}

func (a *Artifact) Info() Info {
	return Info{
		RunID:            a.RunID,
		TrainedAt:        a.TrainedAt,
		SchemaVersion:    a.Schema.Version,
		Threshold:        a.Threshold,
		Params:           a.Params,
		Depth:            a.Tree.Depth(),
		Leaves:           a.Tree.Leaves(),
		SelectedFeatures: append([]string(nil), a.Selector.Names...),
		Training:         a.Training,
		Validation:       a.Validation,
	}
}
