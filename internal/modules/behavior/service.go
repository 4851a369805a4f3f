package behavior

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/events"
)

// ErrModelNotLoaded is returned when no classifier model is configured.
var ErrModelNotLoaded = errors.New("behavior model not loaded")

// Assessment is the classification of one trade.
type Assessment struct {
	Label         string             `json:"label"`
	Score         int                `json:"score"`
	Bucket        string             `json:"bucket"`
	Probabilities map[string]float64 `json:"probabilities"`
	ActionType    ActionType         `json:"actionType"`
	TradeSizePct  float64            `json:"tradeSizePct"`
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`
	Classes  []string `json:"classes"`
}

// LabelRecorder records classifier labels.
type LabelRecorder interface {
	ObserveBehavior(label string)
}

// EventEmitter publishes typed events.
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// Service classifies trades with a loaded Model.
type Service struct {
	model   *Model
	metrics LabelRecorder
	events  EventEmitter
	log     zerolog.Logger
}

// NewService creates a classifier service. model may be nil, in which case
// every call returns ErrModelNotLoaded.
func NewService(model *Model, metrics LabelRecorder, emitter EventEmitter, log zerolog.Logger) *Service {
	return &Service{
		model:   model,
		metrics: metrics,
		events:  emitter,
		log:     log.With().Str("service", "behavior").Logger(),
	}
}

// Loaded reports whether a model is available.
func (s *Service) Loaded() bool {
	return s.model != nil
}

// Classify labels a trade and maps the label to a risk score and bucket.
func (s *Service) Classify(f Features) (Assessment, error) {
	if s.model == nil {
		return Assessment{}, ErrModelNotLoaded
	}

	x, err := f.Vector()
	if err != nil {
		return Assessment{}, err
	}

	pred, err := s.model.Predict(x)
	if err != nil {
		return Assessment{}, fmt.Errorf("prediction failed: %w", err)
	}

	score, ok := ScoreFor(pred.Label)
	if !ok {
		return Assessment{}, fmt.Errorf("no score for label %q", pred.Label)
	}

	a := Assessment{
		Label:         pred.Label,
		Score:         score,
		Bucket:        BucketFor(score),
		Probabilities: pred.Probabilities,
		ActionType:    f.ActionType,
		TradeSizePct:  x[1],
	}

	if s.metrics != nil {
		s.metrics.ObserveBehavior(a.Label)
	}
	if s.events != nil {
		s.events.EmitTyped("behavior", &events.BehaviorClassifiedData{
			Label:  a.Label,
			Score:  a.Score,
			Bucket: a.Bucket,
		})
	}
	s.log.Debug().Str("label", a.Label).Int("score", a.Score).Msg("Trade classified")

	return a, nil
}

// ModelInfo returns metadata for the loaded model.
func (s *Service) ModelInfo() (ModelInfo, error) {
	if s.model == nil {
		return ModelInfo{}, ErrModelNotLoaded
	}
	return ModelInfo{
		Version:  s.model.Version,
		Features: append([]string(nil), FeatureNames...),
		Classes:  append([]string(nil), s.model.Classes...),
	}, nil
}
