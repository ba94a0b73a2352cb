/*
 * Copyright 2025 AudioRack Live.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package models contains the shared data model for GearSync.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is the fixed set of equipment categories.
type Category string

const (
	CategoryCamera      Category = "Camera"
	CategoryAudio       Category = "Audio"
	CategoryLighting    Category = "Lighting"
	CategorySwitching   Category = "Switching"
	CategoryStorage     Category = "Storage"
	CategoryCables      Category = "Cables"
	CategoryAccessories Category = "Accessories"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCamera, CategoryAudio, CategoryLighting, CategorySwitching,
		CategoryStorage, CategoryCables, CategoryAccessories:
		return true
	}

	return false
}

// Status is the check state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusChecked Status = "checked"
	StatusIssue   Status = "issue"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusChecked, StatusIssue:
		return true
	}

	return false
}

// Condition is the physical condition of a record.
type Condition string

const (
	ConditionExcellent   Condition = "excellent"
	ConditionGood        Condition = "good"
	ConditionFair        Condition = "fair"
	ConditionNeedsRepair Condition = "needs_repair"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionNeedsRepair:
		return true
	}

	return false
}

// Priority of a record.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}

	return false
}

// DefaultTeam is the scope used by single-team deployments. Scope stays a
// first-class parameter everywhere; this is only the fallback value.
const DefaultTeam = "global"

// Equipment is the authoritative record for one piece of gear. Exactly one
// copy exists in the store per id; the record is either active or archived,
// never both.
type Equipment struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Category        Category   `json:"category"`
	Status          Status     `json:"status"`
	Condition       Condition  `json:"condition"`
	Location        string     `json:"location"`
	Notes           string     `json:"notes,omitempty"`
	SerialNumber    *string    `json:"serialNumber,omitempty"`
	Barcode         *string    `json:"barcode,omitempty"`
	Vendor          *string    `json:"vendor,omitempty"`
	Model           *string    `json:"model,omitempty"`
	PurchaseDate    *time.Time `json:"purchaseDate,omitempty"`
	WarrantyExpiry  *time.Time `json:"warrantyExpiry,omitempty"`
	PurchasePrice   *float64   `json:"purchasePrice,omitempty"`
	MaintenanceDate *time.Time `json:"maintenanceDate,omitempty"`
	Priority        Priority   `json:"priority"`
	IsReserved      bool       `json:"isReserved"`
	ReservedBy      *uuid.UUID `json:"reservedBy,omitempty"`
	ReservedUntil   *time.Time `json:"reservedUntil,omitempty"`
	LastChecked     time.Time  `json:"lastChecked"`
	CheckedBy       uuid.UUID  `json:"checkedBy"`
	CheckedByName   string     `json:"checkedByName"`
	TeamID          string     `json:"teamId"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the record.
func (e *Equipment) Clone() *Equipment {
	if e == nil {
		return nil
	}

	c := *e
	c.SerialNumber = clonePtr(e.SerialNumber)
	c.Barcode = clonePtr(e.Barcode)
	c.Vendor = clonePtr(e.Vendor)
	c.Model = clonePtr(e.Model)
	c.PurchaseDate = clonePtr(e.PurchaseDate)
	c.WarrantyExpiry = clonePtr(e.WarrantyExpiry)
	c.PurchasePrice = clonePtr(e.PurchasePrice)
	c.MaintenanceDate = clonePtr(e.MaintenanceDate)
	c.ReservedBy = clonePtr(e.ReservedBy)
	c.ReservedUntil = clonePtr(e.ReservedUntil)

	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}

// ArchivedEquipment is the archive-table snapshot of a deleted record. The id
// is the archive entry's own key; OriginalID is the active record it came from.
type ArchivedEquipment struct {
	ID                uuid.UUID  `json:"id"`
	OriginalID        uuid.UUID  `json:"originalEquipmentId"`
	Name              string     `json:"name"`
	Category          Category   `json:"category"`
	Status            Status     `json:"status"`
	Condition         Condition  `json:"condition"`
	Location          string     `json:"location"`
	Notes             string     `json:"notes,omitempty"`
	SerialNumber      *string    `json:"serialNumber,omitempty"`
	Barcode           *string    `json:"barcode,omitempty"`
	Vendor            *string    `json:"vendor,omitempty"`
	Model             *string    `json:"model,omitempty"`
	PurchaseDate      *time.Time `json:"purchaseDate,omitempty"`
	WarrantyExpiry    *time.Time `json:"warrantyExpiry,omitempty"`
	PurchasePrice     *float64   `json:"purchasePrice,omitempty"`
	MaintenanceDate   *time.Time `json:"maintenanceDate,omitempty"`
	Priority          Priority   `json:"priority"`
	LastChecked       time.Time  `json:"lastChecked"`
	CheckedBy         uuid.UUID  `json:"checkedBy"`
	CheckedByName     string     `json:"checkedByName"`
	TeamID            string     `json:"teamId"`
	DeletedBy         uuid.UUID  `json:"deletedBy"`
	DeletedByName     string     `json:"deletedByName"`
	DeletionReason    *string    `json:"deletionReason,omitempty"`
	DeletedAt         time.Time  `json:"deletedAt"`
	OriginalCreatedAt time.Time  `json:"originalCreatedAt"`
	OriginalUpdatedAt time.Time  `json:"originalUpdatedAt"`
}

// Clone returns a deep copy of the archive entry.
func (a *ArchivedEquipment) Clone() *ArchivedEquipment {
	if a == nil {
		return nil
	}

	c := *a
	c.SerialNumber = clonePtr(a.SerialNumber)
	c.Barcode = clonePtr(a.Barcode)
	c.Vendor = clonePtr(a.Vendor)
	c.Model = clonePtr(a.Model)
	c.PurchaseDate = clonePtr(a.PurchaseDate)
	c.WarrantyExpiry = clonePtr(a.WarrantyExpiry)
	c.PurchasePrice = clonePtr(a.PurchasePrice)
	c.MaintenanceDate = clonePtr(a.MaintenanceDate)
	c.DeletionReason = clonePtr(a.DeletionReason)

	return &c
}

// EquipmentPatch is a partial update. Nil fields are left untouched.
type EquipmentPatch struct {
	Name            *string    `json:"name,omitempty"`
	Category        *Category  `json:"category,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	Condition       *Condition `json:"condition,omitempty"`
	Location        *string    `json:"location,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	SerialNumber    *string    `json:"serialNumber,omitempty"`
	Barcode         *string    `json:"barcode,omitempty"`
	Vendor          *string    `json:"vendor,omitempty"`
	Model           *string    `json:"model,omitempty"`
	Priority        *Priority  `json:"priority,omitempty"`
	MaintenanceDate *time.Time `json:"maintenanceDate,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *EquipmentPatch) IsEmpty() bool {
	return p == nil || (p.Name == nil && p.Category == nil && p.Status == nil &&
		p.Condition == nil && p.Location == nil && p.Notes == nil &&
		p.SerialNumber == nil && p.Barcode == nil && p.Vendor == nil &&
		p.Model == nil && p.Priority == nil && p.MaintenanceDate == nil)
}

// Merge overlays other onto p, other's fields winning. Used when a second
// user mutation supersedes one still in flight.
func (p *EquipmentPatch) Merge(other *EquipmentPatch) {
	if other == nil {
		return
	}

	if other.Name != nil {
		p.Name = other.Name
	}

	if other.Category != nil {
		p.Category = other.Category
	}

	if other.Status != nil {
		p.Status = other.Status
	}

	if other.Condition != nil {
		p.Condition = other.Condition
	}

	if other.Location != nil {
		p.Location = other.Location
	}

	if other.Notes != nil {
		p.Notes = other.Notes
	}

	if other.SerialNumber != nil {
		p.SerialNumber = other.SerialNumber
	}

	if other.Barcode != nil {
		p.Barcode = other.Barcode
	}

	if other.Vendor != nil {
		p.Vendor = other.Vendor
	}

	if other.Model != nil {
		p.Model = other.Model
	}

	if other.Priority != nil {
		p.Priority = other.Priority
	}

	if other.MaintenanceDate != nil {
		p.MaintenanceDate = other.MaintenanceDate
	}
}

// ApplyTo applies the patch to a copy of eq and returns it. A status change
// stamps the audit fields with the acting identity, mirroring what the store
// commit will produce. This is the client's optimistic prediction.
func (p *EquipmentPatch) ApplyTo(eq *Equipment, actor Actor, now time.Time) *Equipment {
	out := eq.Clone()

	if p == nil {
		return out
	}

	if p.Name != nil {
		out.Name = *p.Name
	}

	if p.Category != nil {
		out.Category = *p.Category
	}

	if p.Condition != nil {
		out.Condition = *p.Condition
	}

	if p.Location != nil {
		out.Location = *p.Location
	}

	if p.Notes != nil {
		out.Notes = *p.Notes
	}

	if p.SerialNumber != nil {
		out.SerialNumber = clonePtr(p.SerialNumber)
	}

	if p.Barcode != nil {
		out.Barcode = clonePtr(p.Barcode)
	}

	if p.Vendor != nil {
		out.Vendor = clonePtr(p.Vendor)
	}

	if p.Model != nil {
		out.Model = clonePtr(p.Model)
	}

	if p.Priority != nil {
		out.Priority = *p.Priority
	}

	if p.MaintenanceDate != nil {
		out.MaintenanceDate = clonePtr(p.MaintenanceDate)
	}

	if p.Status != nil {
		out.Status = *p.Status
		out.LastChecked = now
		out.CheckedBy = actor.ID
		out.CheckedByName = actor.Name
	}

	out.UpdatedAt = now

	return out
}

// StatsOverview is the headline aggregate for a team's active records.
type StatsOverview struct {
	Total   int `json:"total"`
	Checked int `json:"checked"`
	Pending int `json:"pending"`
	Issues  int `json:"issues"`
}

// StatsSnapshot is the full aggregate view broadcast on the informational
// stream and served by the stats endpoint.
type StatsSnapshot struct {
	Overview    StatsOverview     `json:"overview"`
	Categories  map[Category]int  `json:"categories"`
	Conditions  map[Condition]int `json:"conditions"`
	LastUpdated time.Time         `json:"lastUpdated"`
}
