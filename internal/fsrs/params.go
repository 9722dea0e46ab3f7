package fsrs

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// weightCount is the length of the FSRS weight vector.
const weightCount = 19

// Params holds the tunable scheduler inputs. Users can override the trained
// defaults with a TOML file (see LoadParams); zero-valued fields fall back
// to defaults so a partial file is fine.
type Params struct {
	// W is the FSRS weight vector.
	W []float64 `toml:"w"`

	// DesiredRetention is the target recall probability, typically 0.9.
	DesiredRetention float64 `toml:"desired_retention"`

	// MaximumInterval caps scheduling, in days.
	MaximumInterval int `toml:"maximum_interval"`
}

// DefaultParams returns the trained default weights and standard targets.
func DefaultParams() Params {
	return Params{
		W: []float64{
			0.40255, 1.18385, 3.173, 15.69105, 7.1949, 0.5345, 1.4604,
			0.0046, 1.54575, 0.1192, 1.01925, 1.9395, 0.11, 0.29605,
			2.2698, 0.2315, 2.9898, 0.51655, 0.6621,
		},
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
	}
}

// applyDefaults fills missing or invalid fields from DefaultParams.
func (p *Params) applyDefaults() {
	def := DefaultParams()
	if len(p.W) != weightCount {
		p.W = def.W
	}
	if p.DesiredRetention <= 0 || p.DesiredRetention >= 1 {
		p.DesiredRetention = def.DesiredRetention
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = def.MaximumInterval
	}
}

// LoadParams reads scheduler params from a TOML file.
//
// A missing file is not an error: defaults are returned, so the weight file
// is strictly opt-in tuning.
func LoadParams(path string) (Params, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultParams(), nil
	}

	var p Params
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return DefaultParams(), fmt.Errorf("failed to parse scheduler params %s: %w", path, err)
	}
	if len(p.W) != 0 && len(p.W) != weightCount {
		return DefaultParams(), fmt.Errorf("scheduler params %s: expected %d weights, got %d", path, weightCount, len(p.W))
	}
	p.applyDefaults()
	return p, nil
}
