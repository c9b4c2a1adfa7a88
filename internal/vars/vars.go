// Package vars defines the named-scalar mappings that every manager exchanges:
// values keyed by variable name, optional lower/upper bounds, and the per-side
// bound flags derived from them.
package vars

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// #region values

// Values maps a variable name to its current real value.
type Values map[string]float64

// Clone returns an independent copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Keys returns the variable names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SameKeys reports whether v and other have exactly the same key set.
func (v Values) SameKeys(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for k := range v {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// HasNaN returns the first key holding NaN, if any.
func (v Values) HasNaN() (string, bool) {
	for _, k := range v.Keys() {
		if math.IsNaN(v[k]) {
			return k, true
		}
	}
	return "", false
}

// MarshalJSON writes finite values as numbers and NaN or ±Inf as the strings
// "NaN", "+Inf" and "-Inf", which plain JSON numbers cannot hold.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	out := make(map[string]any, len(v))
	for k, x := range v {
		switch {
		case math.IsNaN(x):
			out[k] = "NaN"
		case math.IsInf(x, 1):
			out[k] = "+Inf"
		case math.IsInf(x, -1):
			out[k] = "-Inf"
		default:
			out[k] = x
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers and the non-finite strings MarshalJSON writes.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(Values, len(raw))
	for k, msg := range raw {
		var x float64
		if err := json.Unmarshal(msg, &x); err == nil {
			out[k] = x
			continue
		}
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return fmt.Errorf("value %q: %w", k, err)
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil || !(math.IsNaN(x) || math.IsInf(x, 0)) {
			return fmt.Errorf("value %q: %q is not a number", k, s)
		}
		out[k] = x
	}
	*v = out
	return nil
}

// Union merges disjoint mappings into a new one. Overlapping keys are an error.
func Union(parts ...Values) (Values, error) {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make(Values, size)
	for _, p := range parts {
		for k, x := range p {
			if _, dup := out[k]; dup {
				return nil, fmt.Errorf("variable %q appears in more than one mapping", k)
			}
			out[k] = x
		}
	}
	return out, nil
}

// Add returns the element-wise sum of base and delta over base's keys.
// Keys missing from delta are carried over unchanged.
func Add(base, delta Values) Values {
	out := base.Clone()
	for k, d := range delta {
		if _, ok := out[k]; ok {
			out[k] += d
		}
	}
	return out
}

// #endregion values

// #region bounds

// Side names one end of a bound descriptor.
type Side string

const (
	Lower Side = "lower"
	Upper Side = "upper"
)

// Bound is an optional lower and/or upper limit. A nil side is unconstrained.
type Bound struct {
	Lower *float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
}

// Set assigns one side of the bound.
func (b *Bound) Set(side Side, value float64) error {
	switch side {
	case Lower:
		b.Lower = Ptr(value)
	case Upper:
		b.Upper = Ptr(value)
	default:
		return fmt.Errorf("unknown bound side %q", side)
	}
	return nil
}

// Clone deep-copies the bound.
func (b Bound) Clone() Bound {
	var out Bound
	if b.Lower != nil {
		out.Lower = Ptr(*b.Lower)
	}
	if b.Upper != nil {
		out.Upper = Ptr(*b.Upper)
	}
	return out
}

// Bounds maps variable names to their bound descriptors.
type Bounds map[string]Bound

// Clone deep-copies every descriptor.
func (b Bounds) Clone() Bounds {
	out := make(Bounds, len(b))
	for k, bound := range b {
		out[k] = bound.Clone()
	}
	return out
}

// Ptr returns a pointer to f.
func Ptr(f float64) *float64 {
	return &f
}

// #endregion bounds

// #region flags

// Flags maps "name.side" to whether the value is within that bound.
type Flags map[string]bool

// FlagKey formats the flag key for a variable and side.
func FlagKey(name string, side Side) string {
	return name + "." + string(side)
}

// AllTrue reports whether every flag in every map is true. Empty maps are satisfied.
func AllTrue(maps ...Flags) bool {
	for _, m := range maps {
		for _, ok := range m {
			if !ok {
				return false
			}
		}
	}
	return true
}

// Violations lists the false flag keys across the given maps, sorted.
func Violations(maps ...Flags) []string {
	var out []string
	for _, m := range maps {
		for k, ok := range m {
			if !ok {
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Clone copies the flag map.
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Check evaluates every configured bound against values. A flag is false only
// when the value lies strictly outside the bound. A configured variable that is
// absent from values, or NaN, fails every side it has.
func Check(bounds Bounds, values Values) Flags {
	flags := make(Flags, 2*len(bounds))
	for name, b := range bounds {
		x, ok := values[name]
		valid := ok && !math.IsNaN(x)
		if b.Lower != nil {
			flags[FlagKey(name, Lower)] = valid && !(x < *b.Lower)
		}
		if b.Upper != nil {
			flags[FlagKey(name, Upper)] = valid && !(x > *b.Upper)
		}
	}
	return flags
}

// #endregion flags
