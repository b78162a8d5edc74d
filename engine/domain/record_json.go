package domain

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// featureMap is the top_5_features wire form: name -> [value, weight], in
// explainer order. Duplicate names keep the first position and the last pair.
type featureMap = orderedmap.OrderedMap[string, [2]float64]

type recordJSON struct {
	UserID      string      `json:"user_id,omitempty"`
	Disease     string      `json:"disease,omitempty"`
	Prediction  string      `json:"prediction,omitempty"`
	Probability float64     `json:"probability,omitempty"`
	Features    *featureMap `json:"top_5_features"`
}

// MarshalJSON writes the record with an ordered top_5_features object.
func (r ExplanationRecord) MarshalJSON() ([]byte, error) {
	fm := orderedmap.New[string, [2]float64](len(r.Features))
	for _, f := range r.Features {
		fm.Set(f.Name, [2]float64{f.Value, f.Weight})
	}
	return json.Marshal(recordJSON{
		UserID:      r.UserID,
		Disease:     r.Disease,
		Prediction:  r.Prediction,
		Probability: r.Probability,
		Features:    fm,
	})
}

// UnmarshalJSON reads the record form written by MarshalJSON, and also the
// bare {name: [value, weight]} mapping older builders persisted.
func (r *ExplanationRecord) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return &DataError{Input: abbreviate(b), Err: fmt.Errorf("%w: %v", ErrCorruptPayload, err)}
	}

	if _, ok := probe["top_5_features"]; !ok {
		fm := orderedmap.New[string, [2]float64]()
		if err := json.Unmarshal(b, fm); err != nil {
			return &DataError{Input: abbreviate(b), Err: fmt.Errorf("%w: %v", ErrCorruptPayload, err)}
		}
		*r = ExplanationRecord{Features: featuresFrom(fm)}
		return nil
	}

	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return &DataError{Input: abbreviate(b), Err: fmt.Errorf("%w: %v", ErrCorruptPayload, err)}
	}
	*r = ExplanationRecord{
		UserID:      raw.UserID,
		Disease:     raw.Disease,
		Prediction:  raw.Prediction,
		Probability: raw.Probability,
		Features:    featuresFrom(raw.Features),
	}
	return nil
}

func featuresFrom(fm *featureMap) []FeatureRecord {
	if fm == nil {
		return nil
	}
	out := make([]FeatureRecord, 0, fm.Len())
	for pair := fm.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, FeatureRecord{Name: pair.Key, Value: pair.Value[0], Weight: pair.Value[1]})
	}
	return out
}

func abbreviate(b []byte) string {
	const max = 64
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
