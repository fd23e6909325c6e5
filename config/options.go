package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// ParseOptions applies a whitespace separated list of key=value settings to
// c, for example:
//
//	gc.young_bytes=16MB gc.concurrent=false "gc.promotion_age=3"
//
// Keys use the YAML names, optionally prefixed with "gc.". Quoting follows
// shell rules. The result is validated.
func ParseOptions(c *Config, options string) error {
	fields, err := shlex.Split(options)
	if err != nil {
		return fmt.Errorf("could not split options %q: %w", options, err)
	}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return fmt.Errorf("option %q: expected key=value", field)
		}
		if err := c.set(strings.TrimPrefix(key, "gc."), value); err != nil {
			return fmt.Errorf("option %q: %w", field, err)
		}
	}
	return c.Validate()
}

func (c *Config) set(key, value string) error {
	var size *Size
	switch key {
	case "region_size":
		size = &c.RegionSize
	case "line_size":
		size = &c.LineSize
	case "immix_bytes":
		size = &c.ImmixBytes
	case "young_bytes":
		size = &c.YoungBytes
	case "large_bytes":
		size = &c.LargeBytes
	case "slab_size":
		size = &c.SlabSize
	case "large_object_threshold":
		size = &c.LargeObjectThreshold
	case "mature_trigger":
		size = &c.MatureTrigger
	case "promotion_age", "mark_batch":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if key == "promotion_age" {
			c.PromotionAge = n
		} else {
			c.MarkBatch = n
		}
		return nil
	case "concurrent", "stress":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		if key == "concurrent" {
			c.Concurrent = b
		} else {
			c.Stress = b
		}
		return nil
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	parsed, err := ParseSize(value)
	if err != nil {
		return err
	}
	*size = parsed
	return nil
}
