package ml

import (
	"fmt"
	"sort"
	"strings"
)

// Metric names a model selection score. Names follow the scikit-learn
// scoring strings the training configs were written against.
type Metric string

const (
	Accuracy         Metric = "accuracy"
	Precision        Metric = "precision"
	Recall           Metric = "recall"
	F1               Metric = "f1"
	BalancedAccuracy Metric = "balanced_accuracy"
	ROCAUC           Metric = "roc_auc"
)

var metrics = []Metric{Accuracy, Precision, Recall, F1, BalancedAccuracy, ROCAUC}

// ParseMetric resolves a configured scoring name.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range metrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported scoring metric %q (supported: %s)", name, SupportedMetrics())
}

// SupportedMetrics lists the accepted scoring names.
func SupportedMetrics() string {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// Report is a full binary classification evaluation at one threshold.
type Report struct {
	Accuracy         float64   `json:"accuracy"`
	Precision        float64   `json:"precision"`
	Recall           float64   `json:"recall"`
	F1               float64   `json:"f1"`
	BalancedAccuracy float64   `json:"balanced_accuracy"`
	ROCAUC           float64   `json:"roc_auc"`
	Support          [2]int    `json:"support"`
	Confusion        [2][2]int `json:"confusion"` // [actual][predicted]
}

// Evaluate scores churn probabilities against true labels. A sample is
// predicted as churn when its probability is strictly above threshold.
func Evaluate(yTrue []int, proba []float64, threshold float64) Report {
	var r Report
	for i, y := range yTrue {
		pred := 0
		if proba[i] > threshold {
			pred = 1
		}
		r.Confusion[y][pred]++
		r.Support[y]++
	}
	tn, fp := float64(r.Confusion[0][0]), float64(r.Confusion[0][1])
	fn, tp := float64(r.Confusion[1][0]), float64(r.Confusion[1][1])

	r.Accuracy = ratio(tp+tn, tp+tn+fp+fn)
	r.Precision = ratio(tp, tp+fp)
	r.Recall = ratio(tp, tp+fn)
	r.F1 = ratio(2*r.Precision*r.Recall, r.Precision+r.Recall)
	r.BalancedAccuracy = (r.Recall + ratio(tn, tn+fp)) / 2
	r.ROCAUC = rocAUC(yTrue, proba)
	return r
}

// Score returns the single value of m for the given predictions.
func (m Metric) Score(yTrue []int, proba []float64, threshold float64) float64 {
	if m == ROCAUC {
		return rocAUC(yTrue, proba)
	}
	r := Evaluate(yTrue, proba, threshold)
	switch m {
	case Precision:
		return r.Precision
	case Recall:
		return r.Recall
	case F1:
		return r.F1
	case BalancedAccuracy:
		return r.BalancedAccuracy
	}
	return r.Accuracy
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// rocAUC is the Mann-Whitney estimate with tied scores sharing their mean
// rank. Undefined when one class is absent; 0.5 is returned then.
func rocAUC(yTrue []int, proba []float64) float64 {
	order := make([]int, len(proba))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return proba[order[a]] < proba[order[b]] })

	var pos, neg, rankSum float64
	for start := 0; start < len(order); {
		end := start
		for end+1 < len(order) && proba[order[end+1]] == proba[order[start]] {
			end++
		}
		rank := float64(start+end)/2 + 1
		for k := start; k <= end; k++ {
			if yTrue[order[k]] == 1 {
				pos++
				rankSum += rank
			} else {
				neg++
			}
		}
		start = end + 1
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}
