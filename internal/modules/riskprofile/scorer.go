package riskprofile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/events"
)

// ErrScorerDisabled is reported when no completer is configured.
var ErrScorerDisabled = errors.New("risk scorer is disabled")

const systemPrompt = `You are a financial risk assessment expert.
You will receive a questionnaire answered by an investor. The questions were designed to find out the investor's risk level.
Estimate how much of the investor's profile is:
 - low risk: answers indicate a conservative approach to investing
 - medium risk: answers indicate a balanced approach to investing
 - high risk: answers indicate an aggressive approach to investing
Each value is a percentage between 0 and 100 and the three values must add up to 100.
Respond only with a JSON object of this form:
{"risk_score": {"low_risk": <number>, "medium_risk": <number>, "high_risk": <number>}}`

// OutcomeKind classifies a scoring attempt.
type OutcomeKind string

const (
	OutcomeOK            OutcomeKind = "ok"
	OutcomeNoJSON        OutcomeKind = "no_json"
	OutcomeInvalidScore  OutcomeKind = "invalid_score"
	OutcomeUpstreamError OutcomeKind = "upstream_error"
	OutcomeDisabled      OutcomeKind = "disabled"
	OutcomeEmpty         OutcomeKind = "empty_questionnaire"
)

// Outcome is the result of Score. Exactly one of RiskScore or Error is set.
type Outcome struct {
	RiskScore *Score      `json:"risk_score,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Raw       string      `json:"raw,omitempty"`
	Kind      OutcomeKind `json:"-"`
	Attempts  int         `json:"-"`
}

// OK reports whether a score was produced.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeOK
}

// ScorerConfig bounds upstream calls.
type ScorerConfig struct {
	Model          string
	AttemptTimeout time.Duration
	MaxAttempts    int
	Backoff        time.Duration
}

// DefaultScorerConfig returns the production call bounds.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Model:          DefaultOpenAIConfig().Model,
		AttemptTimeout: 20 * time.Second,
		MaxAttempts:    3,
		Backoff:        500 * time.Millisecond,
	}
}

// OutcomeRecorder records scorer outcomes.
type OutcomeRecorder interface {
	ObserveRiskScore(result string)
}

// EventEmitter publishes typed events.
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// Scorer turns questionnaires into risk splits.
type Scorer struct {
	completer Completer
	config    ScorerConfig
	metrics   OutcomeRecorder
	events    EventEmitter
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScorer creates a scorer. A nil completer yields a disabled scorer.
func NewScorer(completer Completer, cfg ScorerConfig, metrics OutcomeRecorder, emitter EventEmitter, log zerolog.Logger) *Scorer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Scorer{
		completer: completer,
		config:    cfg,
		metrics:   metrics,
		events:    emitter,
		log:       log.With().Str("service", "riskprofile").Logger(),
		sleep:     sleepContext,
	}
}

// Enabled reports whether a completer is configured.
func (s *Scorer) Enabled() bool {
	return s.completer != nil
}

// Score asks the model for a risk split of qa. Upstream errors are retried;
// an unparsable reply is not.
func (s *Scorer) Score(ctx context.Context, qa map[string]string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Risk scorer panicked")
			outcome = Outcome{Kind: OutcomeUpstreamError, Error: "scorer failure", Code: string(OutcomeUpstreamError)}
		}
		s.record(outcome, len(qa))
	}()

	if !s.Enabled() {
		return Outcome{Kind: OutcomeDisabled, Error: ErrScorerDisabled.Error(), Code: "scorer_disabled"}
	}
	if len(qa) == 0 {
		return Outcome{Kind: OutcomeEmpty, Error: "questionnaire is empty", Code: string(OutcomeEmpty)}
	}

	prompt := BuildPrompt(qa)
	var (
		reply   string
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= s.config.MaxAttempts; attempt++ {
		reply, lastErr = s.complete(ctx, prompt)
		if lastErr == nil {
			break
		}
		s.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Risk scorer call failed")
		if attempt == s.config.MaxAttempts || ctx.Err() != nil {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.config.Backoff); err != nil {
			lastErr = err
			break
		}
	}
	if attempt > s.config.MaxAttempts {
		attempt = s.config.MaxAttempts
	}

	if lastErr != nil {
		return Outcome{
			Kind:     OutcomeUpstreamError,
			Error:    lastErr.Error(),
			Code:     string(OutcomeUpstreamError),
			Attempts: attempt,
		}
	}

	score, err := ParseScore(reply)
	switch {
	case errors.Is(err, ErrNoJSONFound):
		return Outcome{Kind: OutcomeNoJSON, Error: ErrNoJSONFound.Error(), Raw: reply, Attempts: attempt}
	case err != nil:
		return Outcome{Kind: OutcomeInvalidScore, Error: err.Error(), Code: string(OutcomeInvalidScore), Raw: reply, Attempts: attempt}
	}
	return Outcome{Kind: OutcomeOK, RiskScore: &score, Attempts: attempt}
}

func (s *Scorer) complete(ctx context.Context, prompt string) (string, error) {
	attemptCtx := ctx
	if s.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.config.AttemptTimeout)
		defer cancel()
	}
	return s.completer.Complete(attemptCtx, systemPrompt, prompt)
}

func (s *Scorer) record(outcome Outcome, questions int) {
	if s.metrics != nil {
		s.metrics.ObserveRiskScore(string(outcome.Kind))
	}
	if outcome.OK() && s.events != nil {
		s.events.EmitTyped("riskprofile", &events.RiskProfileScoredData{
			Questions:  questions,
			LowRisk:    outcome.RiskScore.LowRisk,
			MediumRisk: outcome.RiskScore.MediumRisk,
			HighRisk:   outcome.RiskScore.HighRisk,
			Attempts:   outcome.Attempts,
			Model:      s.config.Model,
		})
	}
	s.log.Debug().
		Str("outcome", string(outcome.Kind)).
		Int("questions", questions).
		Int("attempts", outcome.Attempts).
		Msg("Risk profile scored")
}

// BuildPrompt renders qa as numbered question/answer pairs ordered by question.
func BuildPrompt(qa map[string]string) string {
	questions := make([]string, 0, len(qa))
	for q := range qa {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	var b strings.Builder
	b.WriteString("Questionnaire:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, strings.TrimSpace(q), strings.TrimSpace(qa[q]))
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
