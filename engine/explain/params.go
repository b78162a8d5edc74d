package explain

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// Labels is a list of class or category names. The exporter writes them as
// strings or numbers depending on the dataset, so both are accepted.
type Labels []string

// UnmarshalJSON decodes a JSON array of strings and/or numbers.
func (l *Labels) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Labels, len(raw))
	for i, v := range raw {
		switch tv := v.(type) {
		case string:
			out[i] = tv
		case float64:
			out[i] = domain.FormatValue(tv)
		case bool:
			out[i] = strconv.FormatBool(tv)
		default:
			return fmt.Errorf("labels[%d]: unsupported %T", i, v)
		}
	}
	*l = out
	return nil
}

// Params mirrors lime_explainer_params.json.
type Params struct {
	Mode                string            `json:"mode"`
	ClassNames          Labels            `json:"class_names"`
	FeatureNames        []string          `json:"feature_names"`
	CategoricalFeatures []int             `json:"categorical_features"`
	CategoricalNames    map[string]Labels `json:"categorical_names"`
}

// IsCategorical reports whether feature f is declared categorical.
func (p Params) IsCategorical(f int) bool {
	for _, c := range p.CategoricalFeatures {
		if c == f {
			return true
		}
	}
	return false
}

// CategoryName returns the display name of value v for categorical feature f.
func (p Params) CategoryName(f int, v float64) string {
	names := p.CategoricalNames[strconv.Itoa(f)]
	if i := int(v); float64(i) == v && i >= 0 && i < len(names) {
		return names[i]
	}
	return domain.FormatValue(v)
}

// LoadParams reads explainer parameters from a JSON file.
func LoadParams(path string) (Params, error) {
	var p Params
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("explain: read params %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("explain: decode params %s: %w", path, err)
	}
	if p.Mode == "" {
		p.Mode = "classification"
	}
	return p, nil
}

// LoadTrainingData reads the training distribution from a .npy file.
func LoadTrainingData(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("explain: open training data %s: %w", path, err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("explain: decode training data %s: %w", path, err)
	}
	return &m, nil
}
