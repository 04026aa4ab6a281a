package scan

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MinResolution = 2
	MaxResolution = 9

	// DefaultResolution gives 128 FFT bins per scan.
	DefaultResolution = 7
)

// APFrequencies is the table of Wi-Fi channel center frequencies (MHz) an
// access point can be switched to while scanning.
var APFrequencies = []int{
	2412, 2417, 2422, 2427, 2432, 2437, 2442, 2447, 2452, 2457, 2462, 2467, 2472,
	5180, 5200, 5220, 5240, 5745, 5765, 5785, 5805, 5825,
}

// Config is an immutable scan configuration: the set of AP frequencies to
// cycle through and the FFT resolution (log2 of the bin count).
//
// The zero value is not a valid configuration, use NewConfig.
type Config struct {
	frequencies []int
	resolution  int
}

// NewConfig builds a configuration from the given frequencies (MHz) and
// resolution. Duplicate frequencies are collapsed, order is not significant.
// The returned config is validated.
func NewConfig(frequencies []int, resolution int) (Config, error) {
	freqs := slices.Clone(frequencies)
	slices.Sort(freqs)
	freqs = slices.Compact(freqs)

	c := Config{frequencies: freqs, resolution: resolution}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MustConfig is like NewConfig but panics on an invalid configuration.
// It is intended for static defaults and tests.
func MustConfig(frequencies []int, resolution int) Config {
	c, err := NewConfig(frequencies, resolution)
	if err != nil {
		panic(err)
	}
	return c
}

// Frequencies returns a copy of the frequency set in ascending order.
func (c Config) Frequencies() []int {
	return slices.Clone(c.frequencies)
}

// Resolution returns the FFT size exponent.
func (c Config) Resolution() int {
	return c.resolution
}

// BinCount returns the number of FFT bins produced per scan.
func (c Config) BinCount() int {
	return 1 << c.resolution
}

// IsZero reports whether c is the zero Config.
func (c Config) IsZero() bool {
	return len(c.frequencies) == 0 && c.resolution == 0
}

// Equal reports whether both configurations describe the same scan.
func (c Config) Equal(o Config) bool {
	return c.resolution == o.resolution && slices.Equal(c.frequencies, o.frequencies)
}

// Validate checks the structural constraints of the configuration.
func (c Config) Validate() error {
	if len(c.frequencies) == 0 {
		return fmt.Errorf("%w: frequency set must not be empty", ErrInvalidConfig)
	}
	for _, f := range c.frequencies {
		if f <= 0 || f > 0xffff {
			return fmt.Errorf("%w: frequency out of range: %d MHz", ErrInvalidConfig, f)
		}
	}
	if c.resolution < MinResolution || c.resolution > MaxResolution {
		return fmt.Errorf("%w: resolution must be between %d and %d: %d given",
			ErrInvalidConfig, MinResolution, MaxResolution, c.resolution)
	}
	return nil
}

func (c Config) String() string {
	freqs := make([]string, len(c.frequencies))
	for i, f := range c.frequencies {
		freqs[i] = strconv.Itoa(f)
	}
	return fmt.Sprintf("freqs=%s MHz bins=%d", strings.Join(freqs, ","), c.BinCount())
}

type configDocument struct {
	Frequencies []int `yaml:"frequencies" json:"frequencies"`
	Resolution  int   `yaml:"resolution" json:"resolution"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configDocument{Frequencies: c.frequencies, Resolution: c.resolution})
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var doc configDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	cfg, err := NewConfig(doc.Frequencies, doc.Resolution)
	if err != nil {
		return err
	}

	*c = cfg
	return nil
}

func (c Config) MarshalYAML() (interface{}, error) {
	return configDocument{Frequencies: c.frequencies, Resolution: c.resolution}, nil
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var doc configDocument
	if err := value.Decode(&doc); err != nil {
		return err
	}

	cfg, err := NewConfig(doc.Frequencies, doc.Resolution)
	if err != nil {
		return fmt.Errorf("scan.Config: %w", err)
	}

	*c = cfg
	return nil
}
