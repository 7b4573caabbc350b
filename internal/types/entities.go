package types

import "time"

// System is a floor coating system offered to customers
type System struct {
	Syncable
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	ChipSize       string  `json:"chipSize,omitempty"`
	BaseCoatRate   float64 `json:"baseCoatRate"`
	TopCoatRate    float64 `json:"topCoatRate"`
	ChipRate       float64 `json:"chipRate"`
	PricePerSqft   float64 `json:"pricePerSqft"`
	IncludesPrimer bool    `json:"includesPrimer"`
}

func (System) EntityType() EntityType { return EntitySystems }

// PricingVariable is a named number used by estimates
type PricingVariable struct {
	Syncable
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

func (PricingVariable) EntityType() EntityType { return EntityPricing }

// CostProfile holds material and overhead costs
type CostProfile struct {
	Syncable
	Name               string  `json:"name"`
	BaseCoatPerGallon  float64 `json:"baseCoatPerGallon"`
	TopCoatPerGallon   float64 `json:"topCoatPerGallon"`
	ChipPerBox         float64 `json:"chipPerBox"`
	CrackFillPerGallon float64 `json:"crackFillPerGallon"`
	GasPerTrip         float64 `json:"gasPerTrip"`
	ConsumablesPerJob  float64 `json:"consumablesPerJob"`
}

func (CostProfile) EntityType() EntityType { return EntityCosts }

// Laborer is a crew member
type Laborer struct {
	Syncable
	Name       string  `json:"name"`
	HourlyRate float64 `json:"hourlyRate"`
	Active     bool    `json:"active"`
}

func (Laborer) EntityType() EntityType { return EntityLaborers }

// ChipBlend is a named mix of chip colors
type ChipBlend struct {
	Syncable
	Name   string   `json:"name"`
	Colors []string `json:"colors,omitempty"`
}

func (ChipBlend) EntityType() EntityType { return EntityChipBlends }

// JobStatus is the lifecycle stage of a job
type JobStatus string

const (
	JobStatusEstimate  JobStatus = "estimate"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusLost      JobStatus = "lost"
)

// JobArea is one measured floor area of a job
type JobArea struct {
	Name       string  `json:"name"`
	SquareFeet float64 `json:"squareFeet"`
	CrackFeet  float64 `json:"crackFeet,omitempty"`
}

// JobPhoto references a photo stored on the device
type JobPhoto struct {
	ID      string    `json:"id"`
	Caption string    `json:"caption,omitempty"`
	TakenAt time.Time `json:"takenAt"`
}

// Job is a customer estimate or scheduled install
type Job struct {
	Syncable
	CustomerName    string     `json:"customerName"`
	CustomerAddress string     `json:"customerAddress,omitempty"`
	Status          JobStatus  `json:"status"`
	SystemID        string     `json:"systemId,omitempty"`
	ChipBlendID     string     `json:"chipBlendId,omitempty"`
	CostProfileID   string     `json:"costProfileId,omitempty"`
	Areas           []JobArea  `json:"areas,omitempty"`
	Photos          []JobPhoto `json:"photos,omitempty"`
	LaborerIDs      []string   `json:"laborerIds,omitempty"`
	EstimatedHours  float64    `json:"estimatedHours"`
	QuotedPrice     float64    `json:"quotedPrice"`
	Notes           string     `json:"notes,omitempty"`
	ScheduledFor    *time.Time `json:"scheduledFor,omitempty"`
}

func (Job) EntityType() EntityType { return EntityJobs }

// ChipInventory tracks boxes on hand for a chip blend
type ChipInventory struct {
	Syncable
	ChipBlendID string  `json:"chipBlendId"`
	Boxes       float64 `json:"boxes"`
}

func (ChipInventory) EntityType() EntityType { return EntityChipInventory }

// CoatInventory tracks gallons on hand of a coating product
type CoatInventory struct {
	Syncable
	Product string  `json:"product"`
	Color   string  `json:"color,omitempty"`
	Gallons float64 `json:"gallons"`
}

// TopCoatInventory is coat inventory for top coats
type TopCoatInventory struct {
	CoatInventory
}

func (TopCoatInventory) EntityType() EntityType { return EntityTopCoatInventory }

// BaseCoatInventory is coat inventory for base coats
type BaseCoatInventory struct {
	CoatInventory
}

func (BaseCoatInventory) EntityType() EntityType { return EntityBaseCoatInventory }

// MiscInventory tracks any other consumable
type MiscInventory struct {
	Syncable
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
}

func (MiscInventory) EntityType() EntityType { return EntityMiscInventory }
