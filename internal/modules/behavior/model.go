package behavior

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ErrInvalidModel is returned when a model file fails validation.
var ErrInvalidModel = errors.New("invalid behavior model")

// Model is a standard scaler followed by multinomial logistic regression.
type Model struct {
	Version      string      `yaml:"version" json:"version"`
	Features     []string    `yaml:"features" json:"features"`
	Means        []float64   `yaml:"means" json:"means"`
	Scales       []float64   `yaml:"scales" json:"scales"`
	Classes      []string    `yaml:"classes" json:"classes"`
	Coefficients [][]float64 `yaml:"coefficients" json:"coefficients"`
	Intercepts   []float64   `yaml:"intercepts" json:"intercepts"`

	weights *mat.Dense
	bias    *mat.VecDense
}

// Prediction is the classifier output for one trade.
type Prediction struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// LoadModel reads and validates a YAML model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behavior model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a YAML model.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse behavior model: %w", err)
	}
	if err := m.Prepare(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Prepare validates m and builds its weight matrices. Models returned by
// ParseModel are already prepared.
func (m *Model) Prepare() error {
	if err := m.Validate(); err != nil {
		return err
	}

	k, n := len(m.Classes), len(FeatureNames)
	flat := make([]float64, 0, k*n)
	for _, row := range m.Coefficients {
		flat = append(flat, row...)
	}
	m.weights = mat.NewDense(k, n, flat)
	m.bias = mat.NewVecDense(k, append([]float64(nil), m.Intercepts...))
	return nil
}

// Validate checks labels, dimensions and scaler parameters.
func (m *Model) Validate() error {
	n := len(FeatureNames)

	if len(m.Features) > 0 {
		if len(m.Features) != n {
			return fmt.Errorf("%w: expected %d features, got %d", ErrInvalidModel, n, len(m.Features))
		}
		for i, name := range m.Features {
			if name != FeatureNames[i] {
				return fmt.Errorf("%w: feature %d is %q, expected %q", ErrInvalidModel, i, name, FeatureNames[i])
			}
		}
	}
	if len(m.Means) != n || len(m.Scales) != n {
		return fmt.Errorf("%w: means and scales need %d values", ErrInvalidModel, n)
	}
	for i, s := range m.Scales {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: scale for %s must be positive", ErrInvalidModel, FeatureNames[i])
		}
		if math.IsNaN(m.Means[i]) || math.IsInf(m.Means[i], 0) {
			return fmt.Errorf("%w: mean for %s is not finite", ErrInvalidModel, FeatureNames[i])
		}
	}

	if len(m.Classes) < 2 {
		return fmt.Errorf("%w: at least two classes are required", ErrInvalidModel)
	}
	seen := make(map[string]bool, len(m.Classes))
	for _, c := range m.Classes {
		if _, ok := labelScores[c]; !ok {
			return fmt.Errorf("%w: unknown class %q", ErrInvalidModel, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate class %q", ErrInvalidModel, c)
		}
		seen[c] = true
	}

	if len(m.Coefficients) != len(m.Classes) {
		return fmt.Errorf("%w: expected %d coefficient rows, got %d", ErrInvalidModel, len(m.Classes), len(m.Coefficients))
	}
	for i, row := range m.Coefficients {
		if len(row) != n {
			return fmt.Errorf("%w: coefficient row %d has %d values, expected %d", ErrInvalidModel, i, len(row), n)
		}
	}
	if len(m.Intercepts) != len(m.Classes) {
		return fmt.Errorf("%w: expected %d intercepts, got %d", ErrInvalidModel, len(m.Classes), len(m.Intercepts))
	}
	return nil
}

// Predict scales x, applies the linear model and softmax, and returns the
// most probable class. Ties go to the class listed first.
func (m *Model) Predict(x []float64) (Prediction, error) {
	n := len(FeatureNames)
	if len(x) != n {
		return Prediction{}, fmt.Errorf("expected %d features, got %d", n, len(x))
	}
	if m.weights == nil {
		return Prediction{}, errors.New("behavior model is not prepared")
	}

	scaled := mat.NewVecDense(n, nil)
	for i, v := range x {
		sv := (v - m.Means[i]) / m.Scales[i]
		if math.IsNaN(sv) || math.IsInf(sv, 0) {
			return Prediction{}, fmt.Errorf("%w: %s out of range", ErrInvalidFeature, FeatureNames[i])
		}
		scaled.SetVec(i, sv)
	}

	k := len(m.Classes)
	z := mat.NewVecDense(k, nil)
	z.MulVec(m.weights, scaled)
	z.AddVec(z, m.bias)

	// Finite inputs can still overflow a logit, and softmax would turn it into NaN.
	logits := z.RawVector().Data
	for i, v := range logits {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Prediction{}, fmt.Errorf("%w: logit for %s overflowed", ErrInvalidFeature, m.Classes[i])
		}
	}

	probs := softmax(logits)
	best := 0
	for i := 1; i < k; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}

	out := Prediction{
		Label:         m.Classes[best],
		Probabilities: make(map[string]float64, k),
	}
	for i, c := range m.Classes {
		out.Probabilities[c] = probs[i]
	}
	return out, nil
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
