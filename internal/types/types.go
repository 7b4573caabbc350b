package types

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityType identifies a local entity table
type EntityType string

const (
	EntitySystems           EntityType = "systems"
	EntityPricing           EntityType = "pricing"
	EntityCosts             EntityType = "costs"
	EntityLaborers          EntityType = "laborers"
	EntityChipBlends        EntityType = "chipBlends"
	EntityJobs              EntityType = "jobs"
	EntityChipInventory     EntityType = "chipInventory"
	EntityTopCoatInventory  EntityType = "topCoatInventory"
	EntityBaseCoatInventory EntityType = "baseCoatInventory"
	EntityMiscInventory     EntityType = "miscInventory"
)

// AllEntityTypes lists every synchronized entity type in pull order.
var AllEntityTypes = []EntityType{
	EntitySystems,
	EntityPricing,
	EntityCosts,
	EntityLaborers,
	EntityChipBlends,
	EntityJobs,
	EntityChipInventory,
	EntityTopCoatInventory,
	EntityBaseCoatInventory,
	EntityMiscInventory,
}

// Valid reports whether e is one of the synchronized entity types.
func (e EntityType) Valid() bool {
	for _, t := range AllEntityTypes {
		if t == e {
			return true
		}
	}
	return false
}

// ParseEntityType validates s as an entity type name.
func ParseEntityType(s string) (EntityType, error) {
	et := EntityType(s)
	if !et.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return et, nil
}

// Syncable carries the fields every synchronized record has.
type Syncable struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Deleted   bool      `json:"deleted"`
}

// Base returns the embedded sync fields.
func (s *Syncable) Base() *Syncable {
	return s
}

// Touch refreshes UpdatedAt, assigning an ID and CreatedAt on first save.
func (s *Syncable) Touch(now time.Time) {
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// MarkDeleted soft-deletes the record.
func (s *Syncable) MarkDeleted(now time.Time) {
	s.Deleted = true
	s.UpdatedAt = now
}

// Entity is implemented by every synchronized entity struct.
type Entity interface {
	Base() *Syncable
	EntityType() EntityType
}

// NewID returns a new record identifier.
func NewID() string {
	return ulid.Make().String()
}
