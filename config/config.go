// Package config holds the tunables of the object memory: heap space sizes,
// the young collection promotion policy and the mature collection mode.
//
// A Config is usually built with Default and then adjusted from a YAML file
// (Load) or an option string (ParseOptions), the way command line tools pass
// "-gc.young_bytes=16MB" style settings through to the runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Size is a number of bytes. In YAML and option strings it may be written
// with a unit suffix, such as "32KB" or "8 MB".
type Size uint64

func (s Size) String() string {
	return bytesize.ByteSize(s).String()
}

// ParseSize parses a size with an optional unit suffix. A bare number is a
// number of bytes.
func ParseSize(text string) (Size, error) {
	if n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64); err == nil {
		return Size(n), nil
	}
	b, err := bytesize.Parse(text)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", text, err)
	}
	return Size(b), nil
}

// UnmarshalYAML accepts both plain integers and sizes with a unit suffix.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	parsed, err := ParseSize(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML writes the size with a unit suffix.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Config is the configuration of one object memory.
type Config struct {
	// RegionSize is the size of one Immix region. The nursery and the
	// mature generation both take their regions from the same pool.
	RegionSize Size `yaml:"region_size"`

	// LineSize is the granularity of hole reuse inside a mature region.
	LineSize Size `yaml:"line_size"`

	// ImmixBytes is the size of the region pool.
	ImmixBytes Size `yaml:"immix_bytes"`

	// YoungBytes bounds the nursery. Half of it is usable at a time; the
	// other half is the to-space of the next young collection.
	YoungBytes Size `yaml:"young_bytes"`

	// LargeBytes is the size of the large object space.
	LargeBytes Size `yaml:"large_bytes"`

	// SlabSize is the size of the thread-local allocation buffer.
	SlabSize Size `yaml:"slab_size"`

	// LargeObjectThreshold is the largest object that is allocated in the
	// nursery or in an Immix region. Larger objects go to the large object
	// space.
	LargeObjectThreshold Size `yaml:"large_object_threshold"`

	// PromotionAge is the number of young collections an object survives
	// before it is promoted to the mature generation.
	PromotionAge int `yaml:"promotion_age"`

	// MatureTrigger is the number of bytes allocated in the mature
	// generation and the large object space after which a mature collection
	// is requested.
	MatureTrigger Size `yaml:"mature_trigger"`

	// Concurrent makes mature collections mark on a background goroutine.
	Concurrent bool `yaml:"concurrent"`

	// MarkBatch is the number of objects the concurrent marker scans before
	// it gives a young collection the chance to pause it.
	MarkBatch int `yaml:"mark_batch"`

	// Stress requests a young collection after every slab refill and a
	// mature collection after every mature allocation.
	Stress bool `yaml:"stress"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		RegionSize:           32 * Size(bytesize.KB),
		LineSize:             256,
		ImmixBytes:           64 * Size(bytesize.MB),
		YoungBytes:           8 * Size(bytesize.MB),
		LargeBytes:           64 * Size(bytesize.MB),
		SlabSize:             4 * Size(bytesize.KB),
		LargeObjectThreshold: 2700,
		PromotionAge:         6,
		MatureTrigger:        16 * Size(bytesize.MB),
		Concurrent:           true,
		MarkBatch:            256,
	}
}

var (
	// ErrInvalid is wrapped by every error returned from Validate.
	ErrInvalid = errors.New("invalid configuration")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func isPowerOfTwo(n Size) bool {
	return n != 0 && n&(n-1) == 0
}

// Validate checks that the sizes are consistent with each other.
func (c *Config) Validate() error {
	switch {
	case !isPowerOfTwo(c.RegionSize):
		return invalid("region_size %d is not a power of two", c.RegionSize)
	case !isPowerOfTwo(c.LineSize) || c.LineSize < 16 || c.LineSize > c.RegionSize:
		return invalid("line_size %d must be a power of two between 16 and region_size", c.LineSize)
	case c.ImmixBytes < c.RegionSize:
		return invalid("immix_bytes %v is smaller than one region", c.ImmixBytes)
	case c.YoungBytes < 2*c.RegionSize:
		return invalid("young_bytes %v must hold at least two regions", c.YoungBytes)
	case c.YoungBytes > c.ImmixBytes/2:
		return invalid("young_bytes %v leaves no room for the mature generation", c.YoungBytes)
	case c.SlabSize < 64 || c.SlabSize > c.RegionSize:
		return invalid("slab_size %v must be between 64 bytes and region_size", c.SlabSize)
	case c.LargeObjectThreshold == 0 || c.LargeObjectThreshold > c.RegionSize/2:
		return invalid("large_object_threshold %v must be between 1 byte and half a region", c.LargeObjectThreshold)
	case c.LargeBytes == 0:
		return invalid("large_bytes must not be zero")
	case c.PromotionAge < 1 || c.PromotionAge > 15:
		return invalid("promotion_age %d must be between 1 and 15", c.PromotionAge)
	case c.MarkBatch < 1:
		return invalid("mark_batch %d must be positive", c.MarkBatch)
	}
	return nil
}

// Parse reads a YAML document on top of the default configuration. Unknown
// keys are an error.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("could not parse configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read configuration: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
