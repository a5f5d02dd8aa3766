package pricing_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-live-tutor/pkg/pricing"
)

func ptr(v float64) *float64 { return &v }

func writePricingFile(t *testing.T, data any) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "models.json")
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func testPricingData() *pricing.PricingData {
	return &pricing.PricingData{
		Models: map[string]pricing.ModelInfo{
			"gpt-4o-realtime-preview": {
				Name:        "gpt-4o-realtime-preview",
				DisplayName: "GPT-4o Realtime",
				Pricing: pricing.TokenPricing{
					InputPerMillion:       5,
					OutputPerMillion:      ptr(20),
					AudioInputPerMillion:  ptr(40),
					AudioOutputPerMillion: ptr(80),
				},
			},
			"text-only": {
				Name:    "text-only",
				Pricing: pricing.TokenPricing{InputPerMillion: 1, OutputPerMillion: ptr(2)},
			},
		},
		LastUpdated: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLoad(t *testing.T) {
	path := writePricingFile(t, testPricingData())

	pd, err := pricing.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", pd.Currency)

	m, err := pd.Model("gpt-4o-realtime-preview")
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o Realtime", m.DisplayName)

	_, err = pd.Model("missing")
	assert.ErrorIs(t, err, pricing.ErrUnknownModel)
}

func TestLoad_Errors(t *testing.T) {
	_, err := pricing.Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "failed to read pricing file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = pricing.Load(bad)
	assert.ErrorContains(t, err, "failed to parse pricing file")
}

func TestTokenPricing_Cost(t *testing.T) {
	models := testPricingData().Models

	tests := map[string]struct {
		model string
		usage pricing.Usage
		want  float64
	}{
		"audio both ways": {
			model: "gpt-4o-realtime-preview",
			usage: pricing.Usage{
				InputTokens: 1_000_000, InputAudioTokens: 1_000_000,
				OutputTokens: 1_000_000, OutputAudioTokens: 1_000_000,
			},
			want: 40 + 80,
		},
		"mixed text and audio": {
			model: "gpt-4o-realtime-preview",
			usage: pricing.Usage{
				InputTokens: 300_000, InputAudioTokens: 100_000,
				OutputTokens: 500_000, OutputAudioTokens: 250_000,
			},
			want: 0.2*5 + 0.1*40 + 0.25*20 + 0.25*80,
		},
		"audio falls back to text rate": {
			model: "text-only",
			usage: pricing.Usage{
				InputTokens: 1_000_000, InputAudioTokens: 500_000,
				OutputTokens: 1_000_000, OutputAudioTokens: 1_000_000,
			},
			want: 0.5*1 + 0.5*1 + 2,
		},
		"empty": {
			model: "text-only",
			want:  0,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := models[tt.model].Pricing.Cost(tt.usage)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMeter_Accumulates(t *testing.T) {
	meter := pricing.NewMeter(pricing.TokenPricing{InputPerMillion: 10, OutputPerMillion: ptr(10)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meter.Add(pricing.Usage{InputTokens: 100_000, OutputTokens: 100_000})
		}()
	}
	wg.Wait()

	usage, cost := meter.Total()
	assert.Equal(t, 1_000_000, usage.InputTokens)
	assert.Equal(t, 1_000_000, usage.OutputTokens)
	assert.InDelta(t, 20.0, cost, 1e-9)
}
