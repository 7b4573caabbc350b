package types

import (
	"testing"
	"time"
)

func TestEntityType_Valid(t *testing.T) {
	for _, et := range AllEntityTypes {
		if !et.Valid() {
			t.Errorf("%q should be valid", et)
		}
	}
	if EntityType("widgets").Valid() {
		t.Error("widgets should not be valid")
	}
	if len(AllEntityTypes) != 10 {
		t.Errorf("AllEntityTypes has %d entries, want 10", len(AllEntityTypes))
	}
}

func TestParseEntityType_Unknown(t *testing.T) {
	if _, err := ParseEntityType("auth"); err == nil {
		t.Error("expected error for unknown entity type")
	}
	et, err := ParseEntityType("chipBlends")
	if err != nil {
		t.Fatalf("ParseEntityType() error = %v", err)
	}
	if et != EntityChipBlends {
		t.Errorf("got %q, want %q", et, EntityChipBlends)
	}
}

func TestSyncable_TouchAssignsIDOnce(t *testing.T) {
	// Given: a new laborer
	l := &Laborer{Name: "Sam"}
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	// When: it is touched twice
	l.Touch(t1)
	id := l.ID
	l.Touch(t2)

	// Then: ID and CreatedAt are stable, UpdatedAt moves
	if id == "" || l.ID != id {
		t.Errorf("ID changed from %q to %q", id, l.ID)
	}
	if !l.CreatedAt.Equal(t1) {
		t.Errorf("CreatedAt = %v, want %v", l.CreatedAt, t1)
	}
	if !l.UpdatedAt.Equal(t2) {
		t.Errorf("UpdatedAt = %v, want %v", l.UpdatedAt, t2)
	}
}

func TestToRecord_CarriesSyncFields(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	job := &Job{
		CustomerName: "Acme Garage",
		Status:       JobStatusEstimate,
		Areas:        []JobArea{{Name: "Garage", SquareFeet: 480}},
		LaborerIDs:   []string{"l1", "l2"},
	}
	job.Touch(now)

	rec, err := ToRecord(job)
	if err != nil {
		t.Fatalf("ToRecord() error = %v", err)
	}

	if rec.ID() != job.ID {
		t.Errorf("ID() = %q, want %q", rec.ID(), job.ID)
	}
	if !rec.UpdatedAt().Equal(now) {
		t.Errorf("UpdatedAt() = %v, want %v", rec.UpdatedAt(), now)
	}
	if rec.IsDeleted() {
		t.Error("IsDeleted() = true, want false")
	}
	if _, ok := rec["customerName"]; !ok {
		t.Error("expected camelCase customerName key")
	}

	var decoded Job
	if err := FromRecord(rec, &decoded); err != nil {
		t.Fatalf("FromRecord() error = %v", err)
	}
	if decoded.CustomerName != job.CustomerName || len(decoded.Areas) != 1 || len(decoded.LaborerIDs) != 2 {
		t.Errorf("decoded job mismatch: %+v", decoded)
	}
}

func TestToRecord_CoatInventoryPromotesFields(t *testing.T) {
	inv := &TopCoatInventory{CoatInventory{Product: "Polyaspartic", Gallons: 12}}
	inv.Touch(time.Now())

	rec, err := ToRecord(inv)
	if err != nil {
		t.Fatalf("ToRecord() error = %v", err)
	}
	if rec.ID() == "" {
		t.Error("expected id at top level")
	}
	if rec["product"] != "Polyaspartic" {
		t.Errorf("product = %v", rec["product"])
	}
	if inv.EntityType() != EntityTopCoatInventory {
		t.Errorf("EntityType() = %q", inv.EntityType())
	}
}

func TestRecord_UpdatedAtUnparseableIsZero(t *testing.T) {
	rec := Record{"id": "x", "updatedAt": "yesterday"}
	if !rec.UpdatedAt().IsZero() {
		t.Errorf("UpdatedAt() = %v, want zero", rec.UpdatedAt())
	}
	if !(Record{"id": "x"}).UpdatedAt().IsZero() {
		t.Error("missing updatedAt should be zero")
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	orig := Record{
		"id":    "j1",
		"areas": []any{map[string]any{"name": "Garage"}},
	}
	cp := orig.Clone()
	cp["areas"].([]any)[0].(map[string]any)["name"] = "Patio"

	got := orig["areas"].([]any)[0].(map[string]any)["name"]
	if got != "Garage" {
		t.Errorf("original mutated through clone: %v", got)
	}
}

func TestNewEntity_AllTypes(t *testing.T) {
	for _, et := range AllEntityTypes {
		e, err := NewEntity(et)
		if err != nil {
			t.Fatalf("NewEntity(%q) error = %v", et, err)
		}
		if e.EntityType() != et {
			t.Errorf("NewEntity(%q).EntityType() = %q", et, e.EntityType())
		}
	}
}
