// Package config implements the case-insensitive, section-scoped RT-DC
// configuration store.
//
// A Config maps section names to Sections, and a Section maps keys to typed
// values (bool, float64, string or []float64). Names are canonicalized to
// trimmed lower case on every insert and lookup.
package config

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
)

//go:embed default.cfg
var defaultCfg []byte

var (
	defaultOnce sync.Once
	defaults    *Config
)

// Default returns a copy of the built-in default configuration.
func Default() *Config {
	defaultOnce.Do(func() {
		c, err := Load(bytes.NewReader(defaultCfg))
		if err != nil {
			panic(fmt.Sprintf("config: embedded defaults: %v", err))
		}
		defaults = c
	})
	return defaults.Copy()
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Section is one named group of configuration keys.
type Section struct {
	values map[string]any
}

func newSection() *Section {
	return &Section{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *Section) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[canonical(key)]
	return v, ok
}

// Set stores v under key. Numbers are stored as float64.
func (s *Section) Set(key string, v any) {
	s.values[canonical(key)] = normalize(v)
}

// Delete removes key.
func (s *Section) Delete(key string) {
	delete(s.values, canonical(key))
}

// Has reports whether key is present.
func (s *Section) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the keys in sorted order.
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Config is a two-level section -> key -> value store.
type Config struct {
	sections map[string]*Section
}

// Empty returns a configuration with no sections.
func Empty() *Config {
	return &Config{sections: make(map[string]*Section)}
}

// Option configures New.
type Option func(*options)

type options struct {
	defaults bool
	layers   []func(*Config) error
}

// WithDefaults controls whether the built-in defaults form the bottom layer.
// It is on by default.
func WithDefaults(on bool) Option {
	return func(o *options) { o.defaults = on }
}

// WithMap overlays a section -> key -> value mapping.
func WithMap(m map[string]map[string]any) Option {
	return func(o *options) {
		o.layers = append(o.layers, func(c *Config) error {
			c.Merge(FromMap(m))
			return nil
		})
	}
}

// WithConfig overlays an existing configuration.
func WithConfig(src *Config) Option {
	return func(o *options) {
		o.layers = append(o.layers, func(c *Config) error {
			c.Merge(src)
			return nil
		})
	}
}

// WithReaders overlays configuration text read from rs.
func WithReaders(rs ...io.Reader) Option {
	return func(o *options) {
		o.layers = append(o.layers, func(c *Config) error {
			loaded, err := Load(rs...)
			if err != nil {
				return err
			}
			c.Merge(loaded)
			return nil
		})
	}
}

// WithFiles overlays the configuration files at paths.
func WithFiles(paths ...string) Option {
	return func(o *options) {
		o.layers = append(o.layers, func(c *Config) error {
			loaded, err := LoadFiles(paths...)
			if err != nil {
				return err
			}
			c.Merge(loaded)
			return nil
		})
	}
}

// New builds a configuration from layered sources in increasing priority:
// defaults, then the layers in the order their options were given. It runs
// FillDefaults on the result.
func New(opts ...Option) (*Config, error) {
	o := &options{defaults: true}
	for _, opt := range opts {
		opt(o)
	}

	c := Empty()
	if o.defaults {
		c = Default()
	}
	for _, layer := range o.layers {
		if err := layer(c); err != nil {
			return nil, err
		}
	}
	if err := c.FillDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromMap builds a configuration from a plain mapping without defaults.
// String values are kept as given.
func FromMap(m map[string]map[string]any) *Config {
	c := Empty()
	for sec, keys := range m {
		s := c.EnsureSection(sec)
		for k, v := range keys {
			s.Set(k, v)
		}
	}
	return c
}

// Load parses configuration text from the sources in order. A section
// opened in one source stays open in the next.
func Load(sources ...io.Reader) (*Config, error) {
	c := Empty()
	var current *Section
	for si, src := range sources {
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineno := 0
		for scanner.Scan() {
			lineno++
			line := scanner.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			line = strings.ToLower(strings.TrimSpace(line))
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
				current = c.EnsureSection(line[1 : len(line)-1])
				continue
			}
			key, raw, ok := strings.Cut(line, "=")
			if !ok {
				return nil, errs.Formatf("source %d line %d: expected 'key = value', got %q", si, lineno, line)
			}
			if current == nil {
				return nil, errs.Formatf("source %d line %d: key %q outside of a section", si, lineno, strings.TrimSpace(key))
			}
			key = strings.TrimSpace(key)
			raw = strings.TrimSpace(raw)
			if key == "" || raw == "" {
				continue
			}
			current.values[key] = ParseValue(raw)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading source %d: %w", si, err)
		}
	}
	return c, nil
}

// LoadFiles opens the files at paths and parses them with Load.
func LoadFiles(paths ...string) (*Config, error) {
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	return Load(readers...)
}

// Section returns the named section or nil.
func (c *Config) Section(name string) *Section {
	return c.sections[canonical(name)]
}

// EnsureSection returns the named section, creating it if absent.
func (c *Config) EnsureSection(name string) *Section {
	n := canonical(name)
	s, ok := c.sections[n]
	if !ok {
		s = newSection()
		c.sections[n] = s
	}
	return s
}

// Sections returns the section names in sorted order.
func (c *Config) Sections() []string {
	names := make([]string, 0, len(c.sections))
	for n := range c.sections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the section exists.
func (c *Config) Has(section string) bool {
	_, ok := c.sections[canonical(section)]
	return ok
}

// Get returns section:key.
func (c *Config) Get(section, key string) (any, bool) {
	return c.Section(section).Get(key)
}

// Set stores section:key, creating the section if needed.
func (c *Config) Set(section, key string, v any) {
	c.EnsureSection(section).Set(key, v)
}

// Delete removes section:key.
func (c *Config) Delete(section, key string) {
	if s := c.Section(section); s != nil {
		s.Delete(key)
	}
}

// Float returns section:key as float64. The second result is false if the
// key is absent or not a number.
func (c *Config) Float(section, key string) (float64, bool) {
	v, ok := c.Get(section, key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Bool returns section:key as bool.
func (c *Config) Bool(section, key string) (bool, bool) {
	v, ok := c.Get(section, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Str returns section:key as string.
func (c *Config) Str(section, key string) (string, bool) {
	v, ok := c.Get(section, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Copy returns a deep copy.
func (c *Config) Copy() *Config {
	out := Empty()
	out.Merge(c)
	return out
}

// Merge overlays every key of overlay onto c. Keys absent from overlay are
// left alone.
func (c *Config) Merge(overlay *Config) {
	if overlay == nil {
		return
	}
	for name, src := range overlay.sections {
		dst := c.EnsureSection(name)
		for k, v := range src.values {
			dst.values[k] = normalize(v)
		}
	}
}

// FillDefaults adds the conditional defaults: general flow rate (NaN), a
// channel width derived from the flow rate, and zero min/max entries for
// every known feature in plotting and filtering. Existing keys are kept.
func (c *Config) FillDefaults() error {
	general := c.Section("general")
	if general == nil {
		return errs.Contractf("configuration has no general section")
	}

	if !general.Has("flow rate [ul/s]") {
		general.Set("flow rate [ul/s]", math.NaN())
	}
	if !general.Has("channel width") {
		rate, _ := c.Float("general", "flow rate [ul/s]")
		if rate < 0.16 {
			general.Set("channel width", 20.0)
		} else {
			general.Set("channel width", 30.0)
		}
	}

	plotting := c.EnsureSection("plotting")
	filtering := c.EnsureSection("filtering")
	for _, feat := range dfn.Features() {
		for _, suffix := range []string{" min", " max"} {
			if !plotting.Has(feat + suffix) {
				plotting.Set(feat+suffix, 0.0)
			}
			if !filtering.Has(feat + suffix) {
				filtering.Set(feat+suffix, 0.0)
			}
		}
	}
	return nil
}

// EventSource is the part of a dataset CompleteFromDataset reads.
type EventSource interface {
	Len() int
	Has(feature string) bool
	Scalar(feature string) ([]float64, error)
}

// CompleteFromDataset derives plotting accuracies from the value range of
// every known feature that has a non-zero value, and records the event
// count as general:cell number. Keys that are already set are kept.
func (c *Config) CompleteFromDataset(ds EventSource) error {
	plotting := c.EnsureSection("plotting")
	for _, feat := range dfn.Features() {
		if !ds.Has(feat) {
			continue
		}
		values, err := ds.Scalar(feat)
		if err != nil {
			return fmt.Errorf("feature %s: %w", feat, err)
		}
		if !anyNonZero(values) {
			continue
		}
		acc := nanRange(values) / 10
		for _, key := range []string{"contour accuracy " + feat, "kde multivariate " + feat} {
			if !plotting.Has(key) {
				plotting.Set(key, acc)
			}
		}
	}
	c.EnsureSection("general").Set("cell number", float64(ds.Len()))
	return nil
}

func anyNonZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}

// nanRange returns max-min ignoring NaN, or NaN if every value is NaN.
func nanRange(values []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	seen := false
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		seen = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !seen {
		return math.NaN()
	}
	return hi - lo
}

// WriteTo writes the configuration text: sorted sections and keys, CRLF line
// endings and a blank line after each section.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, name := range c.Sections() {
		s := c.sections[name]
		fmt.Fprintf(&buf, "[%s]\r\n", name)
		for _, k := range s.Keys() {
			fmt.Fprintf(&buf, "%s = %s\r\n", k, FormatValue(s.values[k]))
		}
		buf.WriteString("\r\n")
	}
	return buf.WriteTo(w)
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
