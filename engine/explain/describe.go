package explain

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

var (
	valuePattern  = regexp.MustCompile(`(?:<=|>=|<|>|=)\s*(-?\d+(?:\.\d+)?)`)
	boundSuffix   = regexp.MustCompile(`\s*(?:<=|>=|<|>|=)\s*-?\d+(?:\.\d+)?`)
	boundPrefix   = regexp.MustCompile(`^\s*-?\d+(?:\.\d+)?\s*(?:<=|>=|<|>)\s*`)
	spaceSquasher = regexp.MustCompile(`\s+`)
)

// HeartDiseaseNames maps the dataset's column names to labels a patient can
// read.
var HeartDiseaseNames = map[string]string{
	"age":      "Patients Age in years",
	"sex":      "Gender (Male : 1; Female : 0)",
	"cp":       "Type of chest pain experienced",
	"trestbps": "Patient's blood pressure at rest (mm/HG)",
	"chol":     "Serum cholesterol in mg/dl",
	"fbs":      "Fasting blood sugar > 120 mg/dl (1 = True, 0 = False)",
	"restecg":  "Resting electrocardiogram results",
	"thalach":  "Maximum heart rate achieved",
	"exang":    "Exercise-induced angina (1 = Yes, 0 = No)",
	"oldpeak":  "Exercise-induced ST depression",
	"slope":    "Slope of the ST segment during exercise",
	"ca":       "Number of major vessels (0-3)",
	"thal":     "Thalassemia blood disorder type",
}

// CleanDescription splits a bucket description such as "age <= 54.00",
// "54.00 < age <= 61.00" or "sex=1" into the bare feature name and the first
// numeric literal that follows a comparison operator.
func CleanDescription(desc string) (string, float64, error) {
	m := valuePattern.FindStringSubmatch(desc)
	if m == nil {
		return "", 0, &domain.DataError{Input: desc, Err: domain.ErrMissingValue}
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", 0, &domain.DataError{Input: desc, Err: domain.ErrMissingValue}
	}

	name := boundPrefix.ReplaceAllString(desc, "")
	name = boundSuffix.ReplaceAllString(name, "")
	name = strings.TrimSpace(spaceSquasher.ReplaceAllString(name, " "))
	if name == "" {
		name = strings.TrimSpace(desc)
	}
	return name, value, nil
}
