// Package schema translates records and entity names between the local
// camelCase convention and the remote snake_case convention.
package schema

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// remoteTables maps local entity types to remote table names.
var remoteTables = map[types.EntityType]string{
	types.EntitySystems:           "systems",
	types.EntityPricing:           "pricing_variables",
	types.EntityCosts:             "costs",
	types.EntityLaborers:          "laborers",
	types.EntityChipBlends:        "chip_blends",
	types.EntityJobs:              "jobs",
	types.EntityChipInventory:     "chip_inventory",
	types.EntityTopCoatInventory:  "topcoat_inventory",
	types.EntityBaseCoatInventory: "basecoat_inventory",
	types.EntityMiscInventory:     "misc_inventory",
}

var localTypes = func() map[string]types.EntityType {
	m := make(map[string]types.EntityType, len(remoteTables))
	for et, table := range remoteTables {
		m[table] = et
	}
	return m
}()

// RemoteTable returns the remote table for et. Unknown names pass through.
func RemoteTable(et types.EntityType) string {
	if table, ok := remoteTables[et]; ok {
		return table
	}
	return string(et)
}

// LocalEntityType returns the entity type stored in a remote table.
// Unknown names pass through.
func LocalEntityType(table string) types.EntityType {
	if et, ok := localTypes[table]; ok {
		return et
	}
	return types.EntityType(table)
}

// IsRemoteTable reports whether table is one of the mapped remote tables.
func IsRemoteTable(table string) bool {
	_, ok := localTypes[table]
	return ok
}

// ToRemote rewrites every key of rec, at any depth, to snake_case.
func ToRemote(rec types.Record) types.Record {
	return mapRecord(rec, KeyToSnake)
}

// ToLocal rewrites every key of rec, at any depth, to camelCase.
func ToLocal(rec types.Record) types.Record {
	return mapRecord(rec, KeyToCamel)
}

func mapRecord(rec types.Record, key func(string) string) types.Record {
	if rec == nil {
		return nil
	}
	return types.Record(mapObject(rec, key))
}

// mapObject rewrites the keys of obj. Keys already in the target form keep
// their name; a key whose rewritten form is taken keeps its original name
// so no value is dropped.
func mapObject(obj map[string]any, key func(string) string) map[string]any {
	out := make(map[string]any, len(obj))
	moved := make([]string, 0, len(obj))
	for k, v := range obj {
		if key(k) == k {
			out[k] = mapValue(v, key)
			continue
		}
		moved = append(moved, k)
	}
	sort.Strings(moved)

	for _, k := range moved {
		target := key(k)
		if _, taken := out[target]; taken {
			slog.Warn("record key collides after mapping, keeping original",
				"component", "schema",
				"action", "key_collision",
				"key", k,
				"target", target,
			)
			target = k
		}
		out[target] = mapValue(obj[k], key)
	}
	return out
}

func mapValue(v any, key func(string) string) any {
	switch val := v.(type) {
	case types.Record:
		return mapObject(val, key)
	case map[string]any:
		return mapObject(val, key)
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = mapObject(item, key)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = mapValue(item, key)
		}
		return out
	default:
		return v
	}
}

// KeyToSnake converts a camelCase key to snake_case. An uppercase run is
// treated as one word, so "recordID" becomes "record_id".
func KeyToSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// KeyToCamel converts a snake_case key to camelCase. Leading underscores
// are kept.
func KeyToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	trimmed := strings.TrimLeft(s, "_")
	prefix := s[:len(s)-len(trimmed)]

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(prefix)
	upper := false
	for _, r := range trimmed {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
