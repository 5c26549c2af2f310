package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Trait is one of the Big Five personality dimensions
type Trait int

const (
	Openness Trait = iota + 1
	Conscientiousness
	Extraversion
	Agreeableness
	Neuroticism
)

var traitNames = map[Trait]string{
	Openness:          "openness",
	Conscientiousness: "conscientiousness",
	Extraversion:      "extraversion",
	Agreeableness:     "agreeableness",
	Neuroticism:       "neuroticism",
}

// traitKeys maps every historical spelling to the canonical trait
var traitKeys = map[string]Trait{
	"o": Openness, "openness": Openness,
	"c": Conscientiousness, "conscientiousness": Conscientiousness,
	"e": Extraversion, "extraversion": Extraversion,
	"a": Agreeableness, "agreeableness": Agreeableness,
	"n": Neuroticism, "neuroticism": Neuroticism,
}

func (t Trait) String() string {
	if name, ok := traitNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trait(%d)", int(t))
}

// ParseTrait resolves a short code (O, C, E, A, N) or a long name
func ParseTrait(key string) (Trait, bool) {
	t, ok := traitKeys[strings.ToLower(strings.TrimSpace(key))]
	return t, ok
}

// TraitVector maps traits to scores in [0,1]
type TraitVector map[Trait]float64

// Validate checks every score is within [0,1]
func (v TraitVector) Validate() error {
	for t, score := range v {
		if score < 0 || score > 1 {
			return fmt.Errorf("%w: %s score %v outside [0,1]", ErrInvalidInput, t, score)
		}
	}
	return nil
}

// MarshalJSON writes long trait names
func (v TraitVector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	out := make(map[string]float64, len(v))
	for t, score := range v {
		out[t.String()] = score
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts either spelling of each trait. Unknown keys are
// dropped. The legacy {"personality_results": {...}} wrapper is unwrapped.
func (v *TraitVector) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	if inner, ok := raw["personality_results"]; ok {
		return v.UnmarshalJSON(inner)
	}

	out := make(TraitVector, len(raw))
	for key, value := range raw {
		t, ok := ParseTrait(key)
		if !ok {
			continue
		}
		var score float64
		if err := json.Unmarshal(value, &score); err != nil {
			continue
		}
		out[t] = score
	}
	*v = out
	return nil
}
