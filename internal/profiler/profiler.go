// Package profiler accumulates time spent per stage of candidate evaluation.
package profiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StatType is one of the fixed evaluation stages.
type StatType int

const (
	StatPerm StatType = iota + 1
	StatStringify
	StatCompile
	StatScore
)

// AllStats lists every StatType in display order.
var AllStats = []StatType{StatPerm, StatStringify, StatCompile, StatScore}

var statNames = map[StatType]string{
	StatPerm:      "perm",
	StatStringify: "stringify",
	StatCompile:   "compile",
	StatScore:     "score",
}

// String returns the wire name of the stat.
func (s StatType) String() string {
	if name, ok := statNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stat(%d)", int(s))
}

// ParseStatType maps a wire name to a StatType.
func ParseStatType(name string) (StatType, error) {
	for stat, n := range statNames {
		if n == name {
			return stat, nil
		}
	}
	return 0, fmt.Errorf("unknown profiler stat %q", name)
}

// Profiler maps each StatType to accumulated seconds. The zero value is ready to use.
type Profiler struct {
	times map[StatType]float64
}

// New returns an empty Profiler.
func New() *Profiler {
	return &Profiler{times: make(map[StatType]float64)}
}

// Add accumulates seconds for stat.
func (p *Profiler) Add(stat StatType, seconds float64) {
	if p.times == nil {
		p.times = make(map[StatType]float64)
	}
	p.times[stat] += seconds
}

// Time returns the accumulated seconds for stat.
func (p *Profiler) Time(stat StatType) float64 {
	return p.times[stat]
}

// Merge adds every stat of other into p.
func (p *Profiler) Merge(other *Profiler) {
	if other == nil {
		return
	}
	for stat, t := range other.times {
		p.Add(stat, t)
	}
}

// Total returns the sum over all stats.
func (p *Profiler) Total() float64 {
	var total float64
	for _, t := range p.times {
		total += t
	}
	return total
}

// String renders one "<name>: <secs>s (<pct>%)" line per stat.
func (p *Profiler) String() string {
	total := p.Total()
	lines := make([]string, 0, len(AllStats))
	for _, stat := range AllStats {
		t := p.Time(stat)
		pct := 0.0
		if total > 0 {
			pct = t / total * 100
		}
		lines = append(lines, fmt.Sprintf("%s: %.2fs (%.2f%%)", stat, t, pct))
	}
	return strings.Join(lines, "\n")
}

// MarshalJSON encodes the profiler as {"<stat>": seconds}.
func (p *Profiler) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(p.times))
	for stat, t := range p.times {
		out[stat.String()] = t
	}
	return json.Marshal(out)
}

// FromJSON rebuilds a Profiler from a {"<stat>": seconds} object. Every key
// must name a known stat and every value must be a number.
func FromJSON(obj map[string]json.RawMessage) (*Profiler, error) {
	p := New()
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		stat, err := ParseStatType(key)
		if err != nil {
			return nil, err
		}
		raw := obj[key]
		if string(raw) == "null" {
			return nil, fmt.Errorf("profiler stat %q must be a number", key)
		}
		var seconds float64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return nil, fmt.Errorf("profiler stat %q must be a number", key)
		}
		p.Add(stat, seconds)
	}
	return p, nil
}
