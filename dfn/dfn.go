// Package dfn holds the known RT-DC vocabulary: scalar feature ids and their
// labels, metadata sections with declared value types, analysis sections and
// fluorescence trace channels.
//
// The vocabulary is read from an embedded YAML resource the first time any
// function is called and is read-only afterwards.
package dfn

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Structured feature kinds. They are stored as groups or multi-dimensional
// datasets rather than 1-D scalar series.
const (
	Contour = "contour"
	Image   = "image"
	Trace   = "trace"
)

//go:embed vocabulary.yaml
var vocabularyYAML []byte

type feature struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type document struct {
	Features []feature                  `yaml:"features"`
	Metadata map[string]map[string]Type `yaml:"metadata"`
	Analysis []string                   `yaml:"analysis"`
	Traces   []string                   `yaml:"traces"`
}

type vocabulary struct {
	features    []string
	labels      map[string]string // id -> label
	byLabel     map[string]string // lower-case label -> id
	metadata    map[string]map[string]Type
	sections    []string
	analysis    []string
	traces      []string
	traceLookup map[string]bool
}

var (
	loadOnce sync.Once
	vocab    *vocabulary
)

func get() *vocabulary {
	loadOnce.Do(func() {
		v, err := parse(vocabularyYAML)
		if err != nil {
			panic(fmt.Sprintf("dfn: embedded vocabulary: %v", err))
		}
		vocab = v
	})
	return vocab
}

func parse(data []byte) (*vocabulary, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	v := &vocabulary{
		labels:      make(map[string]string, len(doc.Features)),
		byLabel:     make(map[string]string, len(doc.Features)),
		metadata:    doc.Metadata,
		analysis:    append([]string(nil), doc.Analysis...),
		traces:      append([]string(nil), doc.Traces...),
		traceLookup: make(map[string]bool, len(doc.Traces)),
	}
	for _, f := range doc.Features {
		if f.ID == "" || f.Label == "" {
			return nil, fmt.Errorf("feature %q has no id or label", f.ID+f.Label)
		}
		if _, dup := v.labels[f.ID]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.ID)
		}
		v.features = append(v.features, f.ID)
		v.labels[f.ID] = f.Label
		v.byLabel[strings.ToLower(f.Label)] = f.ID
	}
	sort.Strings(v.features)

	for sec, keys := range v.metadata {
		for key, typ := range keys {
			if !typ.valid() {
				return nil, fmt.Errorf("metadata %s:%s has unknown type %q", sec, key, typ)
			}
		}
		v.sections = append(v.sections, sec)
	}
	sort.Strings(v.sections)
	sort.Strings(v.analysis)
	sort.Strings(v.traces)
	for _, tr := range v.traces {
		v.traceLookup[tr] = true
	}
	return v, nil
}

// Features returns the scalar feature ids in sorted order.
func Features() []string {
	return append([]string(nil), get().features...)
}

// IsFeature reports whether id is a known scalar feature id.
func IsFeature(id string) bool {
	_, ok := get().labels[id]
	return ok
}

// Label returns the human-readable label of a feature, or "" if unknown.
func Label(id string) string {
	return get().labels[id]
}

// FeatureFromLabel returns the feature id for a label (case-insensitive).
func FeatureFromLabel(label string) (string, bool) {
	id, ok := get().byLabel[strings.ToLower(strings.TrimSpace(label))]
	return id, ok
}

// ResolveFeature accepts a feature id or label in any case and returns the id.
func ResolveFeature(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if IsFeature(n) {
		return n, true
	}
	return FeatureFromLabel(n)
}

// IsCategorical reports whether s is a categorical identifier that must stay
// a string when configuration text is coerced.
func IsCategorical(s string) bool {
	return IsFeature(s)
}

// IsStructured reports whether name is one of the structured feature kinds.
func IsStructured(name string) bool {
	return name == Contour || name == Image || name == Trace
}

// MetadataSections returns the sections that may be written to a container.
func MetadataSections() []string {
	return append([]string(nil), get().sections...)
}

// MetadataKeys returns the sorted keys of a metadata section.
func MetadataKeys(section string) []string {
	keys := make([]string, 0, len(get().metadata[section]))
	for k := range get().metadata[section] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsMetadataSection reports whether section is a metadata section.
func IsMetadataSection(section string) bool {
	_, ok := get().metadata[section]
	return ok
}

// MetadataType returns the declared type of section:key.
func MetadataType(section, key string) (Type, bool) {
	typ, ok := get().metadata[section][key]
	return typ, ok
}

// IsMetadata reports whether section:key is a known metadata key.
func IsMetadata(section, key string) bool {
	_, ok := MetadataType(section, key)
	return ok
}

// AnalysisSections returns the user-editable configuration sections.
func AnalysisSections() []string {
	return append([]string(nil), get().analysis...)
}

// TraceChannels returns the known fluorescence trace channels.
func TraceChannels() []string {
	return append([]string(nil), get().traces...)
}

// IsTraceChannel reports whether name is a known trace channel.
func IsTraceChannel(name string) bool {
	return get().traceLookup[name]
}

// Type is the declared value type of a metadata key.
type Type string

const (
	Bool  Type = "bool"
	Int   Type = "int"
	Float Type = "float"
	Str   Type = "str"
)

func (t Type) valid() bool {
	switch t {
	case Bool, Int, Float, Str:
		return true
	}
	return false
}

// Coerce converts v to the type: bool, int64, float64 or string.
func (t Type) Coerce(v any) (any, error) {
	switch t {
	case Str:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return f != 0, nil
	case Int:
		if s, ok := v.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i, nil
			}
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot convert %v to int", v)
		}
		return int64(f), nil
	case Float:
		return toFloat(v)
	}
	return nil, fmt.Errorf("unknown type %q", string(t))
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to a number", v)
}
