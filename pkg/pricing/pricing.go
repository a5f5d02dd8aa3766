// Package pricing estimates what a realtime speech session costs from the
// token usage the service reports.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrUnknownModel is returned for a model missing from the price list.
var ErrUnknownModel = errors.New("pricing data not found for model")

// TokenPricing is the cost per million tokens in the list's currency.
type TokenPricing struct {
	InputPerMillion       float64  `json:"input_per_million"`
	OutputPerMillion      *float64 `json:"output_per_million"`       // nil if the model has no text output
	AudioInputPerMillion  *float64 `json:"audio_input_per_million"`  // nil if audio input is not billed separately
	AudioOutputPerMillion *float64 `json:"audio_output_per_million"` // nil if audio output is not billed separately
}

// ModelInfo describes one model's prices.
type ModelInfo struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Pricing     TokenPricing `json:"pricing"`
}

// PricingData is the on-disk price list.
type PricingData struct {
	Models      map[string]ModelInfo `json:"models"`
	LastUpdated time.Time            `json:"last_updated"`
	Currency    string               `json:"currency"`
}

// Usage is the token count of one response. Audio counts are included in
// the totals.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	InputAudioTokens  int
	OutputAudioTokens int
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:       u.InputTokens + o.InputTokens,
		OutputTokens:      u.OutputTokens + o.OutputTokens,
		InputAudioTokens:  u.InputAudioTokens + o.InputAudioTokens,
		OutputAudioTokens: u.OutputAudioTokens + o.OutputAudioTokens,
	}
}

// Load reads a price list from path.
func Load(path string) (*PricingData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var pd PricingData
	if err := json.Unmarshal(data, &pd); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if pd.Currency == "" {
		pd.Currency = "USD"
	}
	return &pd, nil
}

// Model looks up a model's prices.
func (pd *PricingData) Model(name string) (ModelInfo, error) {
	m, ok := pd.Models[name]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Cost prices a usage record. Audio tokens fall back to the text rate when
// the model has no separate audio price.
func (p TokenPricing) Cost(u Usage) float64 {
	textIn := max(u.InputTokens-u.InputAudioTokens, 0)
	textOut := max(u.OutputTokens-u.OutputAudioTokens, 0)

	var out float64
	out += perMillion(textIn, p.InputPerMillion)
	out += perMillion(u.InputAudioTokens, orDefault(p.AudioInputPerMillion, p.InputPerMillion))
	if p.OutputPerMillion != nil {
		out += perMillion(textOut, *p.OutputPerMillion)
		out += perMillion(u.OutputAudioTokens, orDefault(p.AudioOutputPerMillion, *p.OutputPerMillion))
	} else if p.AudioOutputPerMillion != nil {
		out += perMillion(u.OutputAudioTokens, *p.AudioOutputPerMillion)
	}
	return out
}

// Meter accumulates usage and cost across the responses of one session.
type Meter struct {
	pricing TokenPricing

	mu    sync.Mutex
	usage Usage
	cost  float64
}

// NewMeter starts an empty meter at the given prices.
func NewMeter(p TokenPricing) *Meter {
	return &Meter{pricing: p}
}

// Add records one response and returns its cost.
func (m *Meter) Add(u Usage) float64 {
	c := m.pricing.Cost(u)

	m.mu.Lock()
	m.usage = m.usage.Add(u)
	m.cost += c
	m.mu.Unlock()

	return c
}

// Total returns the accumulated usage and cost.
func (m *Meter) Total() (Usage, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage, m.cost
}

func perMillion(tokens int, price float64) float64 {
	return float64(tokens) / 1_000_000 * price
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
