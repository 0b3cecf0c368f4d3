// Package synth generates seeded, realistic-looking HR job-change datasets
// with the same columns and value vocabularies as the real one. Churn is
// driven by a hidden score over city development, relevant experience,
// enrolment and tenure, so trained trees have something to find.
package synth

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"churn-predictor/internal/features"
)

// Header is the column order of the generated CSV.
var Header = []string{
	"enrollee_id", "city", "city_development_index", "gender",
	"relevent_experience", "enrolled_university", "education_level",
	"major_discipline", "experience", "company_size", "company_type",
	"last_new_job", "training_hours", "target",
}

type Options struct {
	Rows        int
	ChurnRate   float64 // share of rows labelled 1, exact up to rounding
	MissingRate float64 // chance that a nullable field is left empty
	Seed        int64
}

func (o Options) validate() error {
	if o.Rows < 2 {
		return fmt.Errorf("need at least 2 rows, got %d", o.Rows)
	}
	if o.ChurnRate <= 0 || o.ChurnRate >= 1 {
		return fmt.Errorf("churn rate must be in (0, 1), got %v", o.ChurnRate)
	}
	if o.MissingRate < 0 || o.MissingRate >= 1 {
		return fmt.Errorf("missing rate must be in [0, 1), got %v", o.MissingRate)
	}
	return nil
}

type weighted struct {
	value  string
	weight float64
}

var (
	genders      = []weighted{{"Male", 0.78}, {"Female", 0.18}, {"Other", 0.04}}
	relevantExp  = []weighted{{"Has relevent experience", 0.72}, {"No relevent experience", 0.28}}
	universities = []weighted{{"no_enrollment", 0.74}, {"Full time course", 0.2}, {"Part time course", 0.06}}
	educations   = []weighted{{"Graduate", 0.62}, {"Masters", 0.23}, {"High School", 0.1}, {"Phd", 0.03}, {"Primary School", 0.02}}
	majors       = []weighted{{"STEM", 0.88}, {"Humanities", 0.04}, {"Business Degree", 0.02}, {"Other", 0.02}, {"No Major", 0.02}, {"Arts", 0.02}}
	sizes        = []weighted{{"<10", 0.1}, {"10/49", 0.12}, {"50-99", 0.22}, {"100-500", 0.2}, {"500-999", 0.07}, {"1000-4999", 0.1}, {"5000-9999", 0.04}, {"10000+", 0.15}}
	companyTypes = []weighted{{"Pvt Ltd", 0.75}, {"Funded Startup", 0.07}, {"Public Sector", 0.07}, {"Early Stage Startup", 0.04}, {"NGO", 0.04}, {"Other", 0.03}}
	lastJobs     = []weighted{{"1", 0.42}, {"2", 0.15}, {"3", 0.05}, {"4", 0.05}, {">4", 0.17}, {"never", 0.16}}
)

const cities = 40

func pick(rng *rand.Rand, options []weighted) string {
	var total float64
	for _, o := range options {
		total += o.weight
	}
	r := rng.Float64() * total
	for _, o := range options {
		if r < o.weight {
			return o.value
		}
		r -= o.weight
	}
	return options[len(options)-1].value
}

// Generate builds a table of opts.Rows employees. Exactly
// round(Rows*ChurnRate) rows are labelled 1 (at least one of each class):
// those with the highest hidden churn score.
func Generate(opts Options) (*features.Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	nullable := func(v string) features.Value {
		if rng.Float64() < opts.MissingRate {
			return features.Value{Null: true}
		}
		return features.Value{Raw: v}
	}

	t := &features.Table{
		Path:   "synthetic",
		Header: append([]string(nil), Header...),
		Rows:   make([]features.Record, opts.Rows),
		Labels: make([]int, opts.Rows),
	}
	scores := make([]float64, opts.Rows)

	for i := 0; i < opts.Rows; i++ {
		city := rng.Intn(cities) + 1
		cdi := math.Round((0.45+0.5*float64(city)/cities)*1000) / 1000

		years := rng.Intn(23) - 1 // -1 is "<1", 21 is ">20"
		experience := strconv.Itoa(years)
		switch {
		case years < 0:
			experience = "<1"
		case years > 20:
			experience = ">20"
		}

		rel := pick(rng, relevantExp)
		uni := pick(rng, universities)
		size := pick(rng, sizes)
		hours := 1 + int(rng.ExpFloat64()*50)
		if hours > 336 {
			hours = 336
		}

		sizeField := nullable(size)
		uniField := nullable(uni)

		score := -5*(cdi-0.7) - 0.06*float64(years) + 0.4*rng.NormFloat64()
		if rel == "No relevent experience" {
			score += 0.6
		}
		if !uniField.Null && uni == "Full time course" {
			score += 0.7
		}
		if sizeField.Null {
			score += 0.5
		}
		scores[i] = score

		t.Rows[i] = features.Record{
			"enrollee_id":            {Raw: strconv.Itoa(10000 + i)},
			"city":                   {Raw: "city_" + strconv.Itoa(city)},
			"city_development_index": {Raw: strconv.FormatFloat(cdi, 'f', -1, 64)},
			"gender":                 nullable(pick(rng, genders)),
			"relevent_experience":    {Raw: rel},
			"enrolled_university":    uniField,
			"education_level":        nullable(pick(rng, educations)),
			"major_discipline":       nullable(pick(rng, majors)),
			"experience":             nullable(experience),
			"company_size":           sizeField,
			"company_type":           nullable(pick(rng, companyTypes)),
			"last_new_job":           nullable(pick(rng, lastJobs)),
			"training_hours":         {Raw: strconv.Itoa(hours)},
		}
	}

	churners := int(math.Round(float64(opts.Rows) * opts.ChurnRate))
	if churners < 1 {
		churners = 1
	}
	if churners > opts.Rows-1 {
		churners = opts.Rows - 1
	}
	order := make([]int, opts.Rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	for _, i := range order[:churners] {
		t.Labels[i] = 1
	}
	return t, nil
}

// WriteCSV writes t with a header row in t.Header order. Labels are
// written as 1.0 / 0.0 like the published dataset.
func WriteCSV(w io.Writer, t *features.Table, labelField string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	row := make([]string, len(t.Header))
	for i, r := range t.Rows {
		for j, col := range t.Header {
			if col == labelField {
				row[j] = strconv.Itoa(t.Labels[i]) + ".0"
				continue
			}
			v := r[col]
			if v.Null {
				row[j] = ""
			} else {
				row[j] = v.Raw
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile generates a dataset and writes it to path.
func WriteFile(path string, opts Options) (*features.Table, error) {
	t, err := Generate(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := WriteCSV(f, t, "target"); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	t.Path = path
	return t, nil
}

// Request turns one generated row into a prediction request body.
func Request(r features.Record) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if v.Null {
			out[k] = nil
			continue
		}
		out[k] = v.Raw
	}
	return out
}
