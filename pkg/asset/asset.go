// Package asset normalizes raw API asset records into a stable in-memory
// model. Raw records are dynamically shaped JSON; normalization branches
// on explicit field presence and applies the caller's attribute filtering
// policy (recent-only, days-back, explicit date range).
package asset

import (
	"fmt"
	"time"

	sdkerrors "github.com/easmkit/sdk/pkg/errors"
)

// AttributeValue is one element of a named attribute collection. Most
// carry their own `lastSeen` timestamp and `recent` flag alongside the
// payload fields.
type AttributeValue map[string]any

// Recent reports the attribute's own recent flag. Absent means false.
func (v AttributeValue) Recent() bool {
	b, ok := v["recent"].(bool)
	return ok && b
}

// LastSeen parses the attribute's lastSeen timestamp, reporting whether
// a usable value was present.
func (v AttributeValue) LastSeen() (time.Time, bool) {
	raw, ok := v["lastSeen"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	return parseTimestamp(raw)
}

// String returns the nested value field when present, for generic
// single-value faceting.
func (v AttributeValue) Value() (any, bool) {
	val, ok := v["value"]
	return val, ok
}

// Asset is one normalized asset record: identity plus named attribute
// collections in their original order. Never mutated after Parse.
type Asset struct {
	ID   string
	Kind string

	order []string
	attrs map[string][]AttributeValue
}

// AttributeNames returns the collection names in insertion order.
func (a *Asset) AttributeNames() []string {
	return a.order
}

// Attribute returns the named collection, or nil when absent.
func (a *Asset) Attribute(name string) []AttributeValue {
	if a.attrs == nil {
		return nil
	}
	return a.attrs[name]
}

func (a *Asset) setAttribute(name string, values []AttributeValue) {
	if a.attrs == nil {
		a.attrs = make(map[string][]AttributeValue)
	}
	if _, exists := a.attrs[name]; !exists {
		a.order = append(a.order, name)
	}
	a.attrs[name] = values
}

// ToMap renders the asset back into a plain map, mainly for
// serialization shims.
func (a *Asset) ToMap() map[string]any {
	out := map[string]any{"id": a.ID, "kind": a.Kind}
	for _, name := range a.order {
		vals := a.attrs[name]
		items := make([]any, 0, len(vals))
		for _, v := range vals {
			items = append(items, map[string]any(v))
		}
		out[name] = items
	}
	return out
}

// Options is the attribute filtering policy applied during Parse.
type Options struct {
	// OnlyRecent keeps only attributes whose own recent flag is set.
	OnlyRecent bool

	// LastSeenDaysBack keeps only attributes last seen within the given
	// number of days before now. 0 disables the filter.
	LastSeenDaysBack int

	// DateRangeStart / DateRangeEnd are inclusive bounds on an
	// attribute's lastSeen. Accepted layouts: 2006-01-02 or RFC 3339.
	// Either side may be empty.
	DateRangeStart string
	DateRangeEnd   string

	// Now overrides the clock for LastSeenDaysBack. Defaults to
	// time.Now.
	Now func() time.Time
}

// filterSet is the compiled form of Options.
type filterSet struct {
	onlyRecent bool
	notBefore  time.Time
	hasBefore  bool
	notAfter   time.Time
	hasAfter   bool
}

func (o Options) compile() (filterSet, error) {
	const op = "asset.Parse"
	var fs filterSet
	fs.onlyRecent = o.OnlyRecent

	if o.DateRangeStart != "" {
		start, err := parseDateBound(o.DateRangeStart, false)
		if err != nil {
			return fs, sdkerrors.Validation(op, fmt.Sprintf("invalid date range start %q", o.DateRangeStart))
		}
		fs.notBefore, fs.hasBefore = start, true
	}
	if o.DateRangeEnd != "" {
		end, err := parseDateBound(o.DateRangeEnd, true)
		if err != nil {
			return fs, sdkerrors.Validation(op, fmt.Sprintf("invalid date range end %q", o.DateRangeEnd))
		}
		fs.notAfter, fs.hasAfter = end, true
	}
	if fs.hasBefore && fs.hasAfter && fs.notBefore.After(fs.notAfter) {
		return fs, sdkerrors.Validation(op,
			fmt.Sprintf("date range start %q is after end %q", o.DateRangeStart, o.DateRangeEnd))
	}

	if o.LastSeenDaysBack > 0 {
		now := time.Now
		if o.Now != nil {
			now = o.Now
		}
		cutoff := now().UTC().AddDate(0, 0, -o.LastSeenDaysBack)
		if !fs.hasBefore || cutoff.After(fs.notBefore) {
			fs.notBefore, fs.hasBefore = cutoff, true
		}
	}
	return fs, nil
}

func (fs filterSet) active() bool {
	return fs.onlyRecent || fs.hasBefore || fs.hasAfter
}

// keep decides whether one attribute value survives every active filter.
func (fs filterSet) keep(v AttributeValue) bool {
	if fs.onlyRecent && !v.Recent() {
		return false
	}
	if fs.hasBefore || fs.hasAfter {
		seen, ok := v.LastSeen()
		if !ok {
			return false
		}
		if fs.hasBefore && seen.Before(fs.notBefore) {
			return false
		}
		if fs.hasAfter && seen.After(fs.notAfter) {
			return false
		}
	}
	return true
}

// Parse converts one raw JSON asset record into an Asset, applying the
// filtering policy to every nested attribute collection. It tolerates
// partially-absent structures: a missing `asset` envelope or missing
// collections simply yield fewer attributes, never an error.
func Parse(raw map[string]any, opts Options) (*Asset, error) {
	fs, err := opts.compile()
	if err != nil {
		return nil, err
	}

	out := &Asset{}
	if id, ok := raw["id"].(string); ok {
		out.ID = id
	}
	if kind, ok := raw["kind"].(string); ok {
		out.Kind = kind
	}

	// Attribute collections live either under a nested `asset` envelope
	// or directly on the record.
	body := raw
	if envelope, ok := raw["asset"].(map[string]any); ok {
		body = envelope
	}

	for name, value := range body {
		switch name {
		case "id", "kind", "asset":
			continue
		}
		switch v := value.(type) {
		case []any:
			out.setAttribute(name, filterCollection(v, fs))
		case map[string]any:
			single := AttributeValue(v)
			if !fs.active() || fs.keep(single) {
				out.setAttribute(name, []AttributeValue{single})
			} else {
				out.setAttribute(name, []AttributeValue{})
			}
		case nil:
			out.setAttribute(name, []AttributeValue{})
		default:
			// Scalar field: wrap so faceting can treat it generically.
			out.setAttribute(name, []AttributeValue{{"value": v}})
		}
	}
	return out, nil
}

func filterCollection(items []any, fs filterSet) []AttributeValue {
	out := make([]AttributeValue, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			// Bare scalars inside a list carry no timestamps; date and
			// recent filters cannot apply to them.
			if !fs.active() {
				out = append(out, AttributeValue{"value": item})
			}
			continue
		}
		av := AttributeValue(m)
		if !fs.active() || fs.keep(av) {
			out = append(out, av)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseDateBound parses a range bound. Date-only end bounds extend to
// the end of that day so the range stays inclusive.
func parseDateBound(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Nanosecond).UTC(), nil
		}
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date: %q", raw)
}
