package pricing

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"gateway/internal/domain/usage"
	"gateway/pkg/errors"
)

var perThousand = decimal.NewFromInt(1000)

// Price is the cost of 1K tokens
type Price struct {
	Input    decimal.Decimal `json:"input"`
	Output   decimal.Decimal `json:"output"`
	Currency string          `json:"currency"`
}

// Model is one entry of the models file
type Model struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	MaxOutputTokens int64  `json:"max_output_tokens"`
	Pricing         Price  `json:"pricing"`
}

// Cost is the priced usage of a single request
type Cost struct {
	Input    decimal.Decimal
	Output   decimal.Decimal
	Total    decimal.Decimal
	Currency string
}

// Catalog maps model ids to their pricing. It is immutable after load.
type Catalog struct {
	models map[string]Model
}

// LoadFile reads a models file shaped {"<model_id>": {provider, max_output_tokens, pricing}}
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open models file %s", path)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a models document
func Load(r io.Reader) (*Catalog, error) {
	var raw map[string]Model
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode models file")
	}

	models := make(map[string]Model, len(raw))
	for id, m := range raw {
		if m.ID == "" {
			m.ID = id
		}
		if m.Provider == "" {
			return nil, errors.NewValidationError(id+".provider", "is required", m.Provider)
		}
		if m.MaxOutputTokens <= 0 {
			return nil, errors.NewValidationError(id+".max_output_tokens", "must be positive", m.MaxOutputTokens)
		}
		if m.Pricing.Input.IsNegative() || m.Pricing.Output.IsNegative() {
			return nil, errors.NewValidationError(id+".pricing", "must not be negative", m.Pricing)
		}
		m.Pricing.Currency = strings.ToUpper(strings.TrimSpace(m.Pricing.Currency))
		if m.Pricing.Currency == "" {
			m.Pricing.Currency = usage.DefaultCurrency
		}
		models[id] = m
	}
	return &Catalog{models: models}, nil
}

// Get returns the model entry or ErrUnknownModel
func (c *Catalog) Get(modelID string) (Model, error) {
	m, ok := c.models[modelID]
	if !ok {
		return Model{}, errors.Wrapf(errors.ErrUnknownModel, "model %q", modelID)
	}
	return m, nil
}

// Calculate prices a request. Input and output are each rounded to six places
// before they are summed, and the sum is rounded again.
func (c *Catalog) Calculate(modelID string, promptTokens, completionTokens int64) (Cost, error) {
	m, err := c.Get(modelID)
	if err != nil {
		return Cost{}, err
	}

	input := usage.RoundCost(decimal.NewFromInt(promptTokens).Div(perThousand).Mul(m.Pricing.Input))
	output := usage.RoundCost(decimal.NewFromInt(completionTokens).Div(perThousand).Mul(m.Pricing.Output))
	return Cost{
		Input:    input,
		Output:   output,
		Total:    usage.RoundCost(input.Add(output)),
		Currency: m.Pricing.Currency,
	}, nil
}

// ValidateTokenLimit rejects an output budget larger than the model allows.
// A zero request means "no explicit limit".
func (c *Catalog) ValidateTokenLimit(modelID string, requestedMaxTokens int64) error {
	if requestedMaxTokens == 0 {
		return nil
	}
	m, err := c.Get(modelID)
	if err != nil {
		return err
	}
	if requestedMaxTokens > m.MaxOutputTokens {
		return errors.Wrapf(errors.ErrTokenLimitExceeded,
			"requested max_tokens %d exceeds limit for %s: %d", requestedMaxTokens, modelID, m.MaxOutputTokens)
	}
	return nil
}

// Models returns a copy of every entry, sorted by id
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
