package behavior

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultpilot/allocator/internal/events"
)

func f64(v float64) *float64 { return &v }

func loadTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := LoadModel("testdata/model.yaml")
	require.NoError(t, err)
	return m
}

func TestModel_PredictsEachLabel(t *testing.T) {
	m := loadTestModel(t)

	tests := []struct {
		name     string
		features Features
		want     string
	}{
		{
			name:     "calm buy",
			features: Features{ActionType: ActionBuy, TradeSizePct: f64(0.05), MarketChangePct1h: 0.1, MarketChangePct24h: 0.5, DrawdownPct: 1, TimeSinceDropMin: 120, TradesLast24h: 2},
			want:     "normal",
		},
		{
			name:     "sell into a crash",
			features: Features{ActionType: ActionSell, TradeSizePct: f64(0.3), MarketChangePct1h: -6, MarketChangePct24h: -15, DrawdownPct: 25, TimeSinceDropMin: 5, TradesLast24h: 4},
			want:     "panic",
		},
		{
			name:     "buy into a rally",
			features: Features{ActionType: ActionBuy, TradeSizePct: f64(0.2), MarketChangePct1h: 5, MarketChangePct24h: 12, TimeSinceDropMin: 300, TradesLast24h: 2},
			want:     "fomo",
		},
		{
			name:     "many small trades",
			features: Features{ActionType: ActionBuy, TradeSizePct: f64(0.05), DrawdownPct: 2, TimeSinceDropMin: 120, TradesLast24h: 20},
			want:     "overtrade",
		},
		{
			name:     "oversized buy after a loss",
			features: Features{ActionType: ActionBuy, TradeSizePct: f64(0.5), MarketChangePct1h: -1, MarketChangePct24h: -4, DrawdownPct: 15, TimeSinceDropMin: 10, TradesLast24h: 5},
			want:     "revenge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := tt.features.Vector()
			require.NoError(t, err)

			pred, err := m.Predict(x)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred.Label)

			sum := 0.0
			for _, p := range pred.Probabilities {
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.Len(t, pred.Probabilities, 5)
		})
	}
}

func TestModel_TieGoesToFirstClass(t *testing.T) {
	m, err := ParseModel([]byte(`
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [panic, normal]
coefficients:
  - [0, 0, 0, 0, 0, 0, 0]
  - [0, 0, 0, 0, 0, 0, 0]
intercepts: [0, 0]
`))
	require.NoError(t, err)

	pred, err := m.Predict([]float64{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, "panic", pred.Label)
	assert.InDelta(t, 0.5, pred.Probabilities["normal"], 1e-12)
}

func TestModel_RejectsOverflowingInputs(t *testing.T) {
	m, err := ParseModel([]byte(`
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients:
  - [0, 1e300, 0, 0, 0, 0, 0]
  - [0, -1e300, 0, 0, 0, 0, 0]
intercepts: [0, 0]
`))
	require.NoError(t, err)

	// Finite features whose logits overflow to +Inf and -Inf
	_, err = m.Predict([]float64{0, 1e10, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidFeature)

	// Scaling alone overflows
	tiny, err := ParseModel([]byte(`
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1e-300, 1, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients:
  - [0, 0, 0, 0, 0, 0, 0]
  - [0, 0, 0, 0, 0, 0, 0]
intercepts: [0, 0]
`))
	require.NoError(t, err)
	_, err = tiny.Predict([]float64{1e10, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidFeature)

	svc := NewService(m, nil, nil, zerolog.New(nil).Level(zerolog.Disabled))
	_, err = svc.Classify(Features{ActionType: ActionSell, TradeSizePct: f64(1e10)})
	assert.ErrorIs(t, err, ErrInvalidFeature)
}

func TestModel_SoftmaxIsStableForLargeLogits(t *testing.T) {
	p := softmax([]float64{1000, 999, -1000})
	assert.False(t, math.IsNaN(p[0]))
	assert.Greater(t, p[0], p[1])
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-12)
}

func TestModel_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown class", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, greedy]
coefficients: [[0,0,0,0,0,0,0],[0,0,0,0,0,0,0]]
intercepts: [0, 0]`},
		{"duplicate class", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, normal]
coefficients: [[0,0,0,0,0,0,0],[0,0,0,0,0,0,0]]
intercepts: [0, 0]`},
		{"zero scale", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 0, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients: [[0,0,0,0,0,0,0],[0,0,0,0,0,0,0]]
intercepts: [0, 0]`},
		{"short coefficient row", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients: [[0,0,0,0,0,0,0],[0,0,0]]
intercepts: [0, 0]`},
		{"missing intercept", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients: [[0,0,0,0,0,0,0],[0,0,0,0,0,0,0]]
intercepts: [0]`},
		{"feature order", `
features: [tradeSizePct, actionType, marketChangePct_1h, marketChangePct_24h, drawdownPct, timeSinceDropMin, tradesLast24h]
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal, panic]
coefficients: [[0,0,0,0,0,0,0],[0,0,0,0,0,0,0]]
intercepts: [0, 0]`},
		{"single class", `
means: [0, 0, 0, 0, 0, 0, 0]
scales: [1, 1, 1, 1, 1, 1, 1]
classes: [normal]
coefficients: [[0,0,0,0,0,0,0]]
intercepts: [0]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModel([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestModel_UnpreparedPredictFails(t *testing.T) {
	m := &Model{}
	_, err := m.Predict(make([]float64, 7))
	assert.Error(t, err)
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := LoadModel("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestFeatures_ActionTypeForms(t *testing.T) {
	tests := []struct {
		raw  string
		want ActionType
	}{
		{`"BUY"`, ActionBuy},
		{`"sell"`, ActionSell},
		{`0`, ActionBuy},
		{`1`, ActionSell},
		{`"1"`, ActionSell},
	}
	for _, tt := range tests {
		var a ActionType
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &a), tt.raw)
		assert.Equal(t, tt.want, a, tt.raw)
	}

	var a ActionType
	assert.Error(t, json.Unmarshal([]byte(`"HOLD"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`2`), &a))

	out, err := json.Marshal(ActionSell)
	require.NoError(t, err)
	assert.Equal(t, `"SELL"`, string(out))
}

func TestFeatures_TradeSizeDerivation(t *testing.T) {
	f := Features{TradeAmountUSD: f64(2500), PortfolioValueUSD: f64(10000)}
	size, err := f.TradeSize()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, size, 1e-12)

	f.TradeSizePct = f64(0.1)
	size, err = f.TradeSize()
	require.NoError(t, err)
	assert.Equal(t, 0.1, size)

	_, err = Features{TradeAmountUSD: f64(100)}.TradeSize()
	assert.ErrorIs(t, err, ErrMissingTradeSize)

	_, err = Features{TradeAmountUSD: f64(100), PortfolioValueUSD: f64(0)}.TradeSize()
	assert.ErrorIs(t, err, ErrInvalidFeature)
}

func TestScoreAndBucket(t *testing.T) {
	want := map[string]int{"normal": 15, "panic": 90, "fomo": 85, "overtrade": 75, "revenge": 80}
	for label, score := range want {
		got, ok := ScoreFor(label)
		require.True(t, ok)
		assert.Equal(t, score, got, label)
	}
	_, ok := ScoreFor("greedy")
	assert.False(t, ok)

	assert.Equal(t, "Stable (0-30)", BucketFor(0))
	assert.Equal(t, "Stable (0-30)", BucketFor(30))
	assert.Equal(t, "Medium Risk (31-60)", BucketFor(31))
	assert.Equal(t, "Medium Risk (31-60)", BucketFor(60))
	assert.Equal(t, "High Risk (61-100)", BucketFor(61))
	assert.Equal(t, "High Risk (61-100)", BucketFor(100))
}

type labelSink struct{ labels []string }

func (l *labelSink) ObserveBehavior(label string) { l.labels = append(l.labels, label) }

type eventSink struct{ emitted []events.EventData }

func (e *eventSink) EmitTyped(module string, data events.EventData) {
	e.emitted = append(e.emitted, data)
}

func TestService_Classify(t *testing.T) {
	metrics := &labelSink{}
	emitter := &eventSink{}
	svc := NewService(loadTestModel(t), metrics, emitter, zerolog.New(nil).Level(zerolog.Disabled))

	a, err := svc.Classify(Features{
		ActionType:        ActionSell,
		TradeAmountUSD:    f64(3000),
		PortfolioValueUSD: f64(10000),
		MarketChangePct1h: -6, MarketChangePct24h: -15,
		DrawdownPct: 25, TimeSinceDropMin: 5, TradesLast24h: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "panic", a.Label)
	assert.Equal(t, 90, a.Score)
	assert.Equal(t, "High Risk (61-100)", a.Bucket)
	assert.InDelta(t, 0.3, a.TradeSizePct, 1e-12)
	assert.Equal(t, []string{"panic"}, metrics.labels)

	require.Len(t, emitter.emitted, 1)
	data := emitter.emitted[0].(*events.BehaviorClassifiedData)
	assert.Equal(t, 90, data.Score)

	info, err := svc.ModelInfo()
	require.NoError(t, err)
	assert.Equal(t, "test-2024-11", info.Version)
	assert.Equal(t, FeatureNames, info.Features)
}

func TestService_ModelNotLoaded(t *testing.T) {
	svc := NewService(nil, nil, nil, zerolog.New(nil).Level(zerolog.Disabled))

	assert.False(t, svc.Loaded())
	_, err := svc.Classify(Features{TradeSizePct: f64(0.1)})
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	_, err = svc.ModelInfo()
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestService_RejectsMissingTradeSize(t *testing.T) {
	svc := NewService(loadTestModel(t), nil, nil, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := svc.Classify(Features{ActionType: ActionBuy})
	assert.ErrorIs(t, err, ErrMissingTradeSize)
}
