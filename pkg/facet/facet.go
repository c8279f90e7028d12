// Package facet builds inverted indexes over normalized asset records:
// grouping-key tuple -> {count, member asset ids}. One index per
// requested attribute name, additive for the lifetime of one
// aggregation pass.
package facet

import (
	"fmt"
	"strings"

	"github.com/easmkit/sdk/pkg/asset"
)

// Key is a grouping tuple of up to four fields. Unused trailing fields
// stay nil so Key remains comparable and usable as a map key.
type Key struct {
	A, B, C, D any
}

// NewKey builds a Key from up to four parts.
func NewKey(parts ...any) Key {
	var k Key
	switch {
	case len(parts) > 3:
		k.D = parts[3]
		fallthrough
	case len(parts) > 2:
		k.C = parts[2]
		fallthrough
	case len(parts) > 1:
		k.B = parts[1]
		fallthrough
	case len(parts) > 0:
		k.A = parts[0]
	}
	return k
}

// Parts returns the populated fields in order.
func (k Key) Parts() []any {
	all := []any{k.A, k.B, k.C, k.D}
	end := len(all)
	for end > 1 && all[end-1] == nil {
		end--
	}
	return all[:end]
}

func (k Key) String() string {
	parts := k.Parts()
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	return strings.Join(strs, "|")
}

// Entry is one index bucket: a count and the ordered set of member ids.
type Entry struct {
	Count    int
	AssetIDs []string

	seen map[string]struct{}
}

func (e *Entry) add(assetID string) {
	if _, dup := e.seen[assetID]; dup {
		return
	}
	e.seen[assetID] = struct{}{}
	e.AssetIDs = append(e.AssetIDs, assetID)
	e.Count++
}

// Index is one inverted index over a single attribute name.
type Index struct {
	entries map[Key]*Entry
	keys    []Key
}

func newIndex() *Index {
	return &Index{entries: make(map[Key]*Entry)}
}

// Add records an (asset, key) membership. Duplicate ids within a key
// are ignored so a record visited twice is never double-counted.
func (ix *Index) Add(key Key, assetID string) {
	e, ok := ix.entries[key]
	if !ok {
		e = &Entry{seen: make(map[string]struct{})}
		ix.entries[key] = e
		ix.keys = append(ix.keys, key)
	}
	e.add(assetID)
}

// Get returns the entry for a key, or nil.
func (ix *Index) Get(key Key) *Entry {
	return ix.entries[key]
}

// Keys returns the keys in first-seen order.
func (ix *Index) Keys() []Key {
	return ix.keys
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	return len(ix.keys)
}

// Match returns the entries whose key's string form contains the given
// substring, case-insensitively. Supports facet querying.
func (ix *Index) Match(substr string) map[Key]*Entry {
	needle := strings.ToLower(substr)
	out := make(map[Key]*Entry)
	for _, k := range ix.keys {
		if strings.Contains(strings.ToLower(k.String()), needle) {
			out[k] = ix.entries[k]
		}
	}
	return out
}

// cveIndexName holds the independent index fed by webComponents CVEs.
const cveIndexName = "cveId"

// Aggregate builds one Index per requested attribute name across the
// record collection. With no names given, every attribute name present
// on any record is aggregated. Aggregating a field named webComponents
// additionally populates a cveId index from each component's CVE list.
func Aggregate(assets []*asset.Asset, fields ...string) map[string]*Index {
	out := make(map[string]*Index)
	index := func(name string) *Index {
		ix, ok := out[name]
		if !ok {
			ix = newIndex()
			out[name] = ix
		}
		return ix
	}

	for _, a := range assets {
		names := fields
		if len(names) == 0 {
			names = a.AttributeNames()
		}
		for _, name := range names {
			values := a.Attribute(name)
			if len(values) == 0 {
				continue
			}
			switch name {
			case "services":
				addServices(index(name), a.ID, values)
			case "location":
				addLocations(index(name), a.ID, values)
			case "webComponents":
				addWebComponents(index(name), index(cveIndexName), a.ID, values)
			case "sslServerConfig":
				addSSLConfigs(index(name), a.ID, values)
			case "headers":
				addHeaders(index(name), a.ID, values)
			default:
				addGeneric(index(name), a.ID, values)
			}
		}
	}
	return out
}

func addHeaders(ix *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		name, okN := v["headerName"]
		val, okV := v["headerValue"]
		if okN && okV {
			ix.Add(NewKey(scalar(name), scalar(val)), id)
			continue
		}
		addGenericValue(ix, id, v)
	}
}

// addServices keys on (port, scheme, portStateValue): one entry per
// port-state value, so a port both open and filtered yields two.
func addServices(ix *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		port := scalar(v["port"])
		scheme := scalar(v["scheme"])
		states, ok := v["portStates"].([]any)
		if !ok {
			ix.Add(NewKey(port, scheme), id)
			continue
		}
		for _, s := range states {
			state, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if stateValue, ok := state["value"]; ok {
				ix.Add(NewKey(port, scheme, scalar(stateValue)), id)
			}
		}
	}
}

func addLocations(ix *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		loc, ok := v["value"].(map[string]any)
		if !ok {
			loc = v
		}
		cc := firstOf(loc, "countrycode", "countryCode")
		cn := firstOf(loc, "countryname", "countryName")
		lat := firstOf(loc, "latitude")
		lon := firstOf(loc, "longitude")
		if cc == nil && cn == nil {
			continue
		}
		ix.Add(NewKey(scalar(cc), scalar(cn), scalar(lat), scalar(lon)), id)
	}
}

func addWebComponents(ix, cves *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		name := scalar(v["name"])
		kind := scalar(v["type"])
		version := scalar(v["version"])
		ix.Add(NewKey(name, kind, version), id)

		list, ok := v["cve"].([]any)
		if !ok {
			continue
		}
		for _, c := range list {
			cve, ok := c.(map[string]any)
			if !ok {
				continue
			}
			cves.Add(NewKey(name, scalar(cve["name"]), scalar(cve["cvssScore"])), id)
		}
	}
}

// addSSLConfigs keys every (cipherSuite, tlsVersion) pair from the
// cross product of the config's cipher and version lists.
func addSSLConfigs(ix *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		ciphers, _ := v["cipherSuites"].([]any)
		versions, _ := v["tlsVersions"].([]any)
		for _, c := range ciphers {
			for _, tv := range versions {
				ix.Add(NewKey(scalar(c), scalar(tv)), id)
			}
		}
	}
}

func addGeneric(ix *Index, id string, values []asset.AttributeValue) {
	for _, v := range values {
		addGenericValue(ix, id, v)
	}
}

// addGenericValue falls back to a single-value grouping key: the
// attribute's value field, else its name field.
func addGenericValue(ix *Index, id string, v asset.AttributeValue) {
	if val, ok := v.Value(); ok {
		if _, isMap := val.(map[string]any); !isMap {
			ix.Add(NewKey(scalar(val)), id)
			return
		}
	}
	if name, ok := v["name"]; ok {
		ix.Add(NewKey(scalar(name)), id)
	}
}

// firstOf returns the first present key's value.
func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// scalar normalizes JSON numbers: integral floats become ints so keys
// built from decoded JSON match keys built from literals.
func scalar(v any) any {
	if f, ok := v.(float64); ok {
		if f == float64(int(f)) {
			return int(f)
		}
	}
	return v
}
