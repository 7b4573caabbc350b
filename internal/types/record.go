package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the untyped document form of an entity as stored and synchronized.
// Keys follow the local camelCase convention unless stated otherwise.
type Record map[string]any

// ID returns the record's id field, or "" when absent.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// UpdatedAt returns the parsed updatedAt field. Missing or unparseable
// values yield the zero time.
func (r Record) UpdatedAt() time.Time {
	return ParseTimestamp(r["updatedAt"])
}

// IsDeleted reports the soft-delete flag.
func (r Record) IsDeleted() bool {
	b, _ := r["deleted"].(bool)
	return b
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return Record(cloneValue(map[string]any(val)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// ParseTimestamp reads an RFC 3339 string or time.Time. Anything else is
// the zero time.
func ParseTimestamp(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// FormatTimestamp renders t the way records carry timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ToRecord converts an entity to its document form.
func ToRecord(e Entity) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EntityType(), err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.EntityType(), err)
	}
	return rec, nil
}

// FromRecord decodes a document into dst.
func FromRecord(rec Record, dst Entity) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", dst.EntityType(), err)
	}
	return nil
}

// NewEntity returns an empty entity value for et.
func NewEntity(et EntityType) (Entity, error) {
	switch et {
	case EntitySystems:
		return &System{}, nil
	case EntityPricing:
		return &PricingVariable{}, nil
	case EntityCosts:
		return &CostProfile{}, nil
	case EntityLaborers:
		return &Laborer{}, nil
	case EntityChipBlends:
		return &ChipBlend{}, nil
	case EntityJobs:
		return &Job{}, nil
	case EntityChipInventory:
		return &ChipInventory{}, nil
	case EntityTopCoatInventory:
		return &TopCoatInventory{}, nil
	case EntityBaseCoatInventory:
		return &BaseCoatInventory{}, nil
	case EntityMiscInventory:
		return &MiscInventory{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
}
