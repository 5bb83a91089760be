// Copyright 2025 Verdin Energy
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import "time"

// PowerType represents a renewable generation technology
type PowerType string

const (
	PowerTypeSolar      PowerType = "solar"
	PowerTypeWind       PowerType = "wind"
	PowerTypeHydro      PowerType = "hydro"
	PowerTypeBiomass    PowerType = "biomass"
	PowerTypeGeothermal PowerType = "geothermal"
)

func (p PowerType) Valid() bool {
	switch p {
	case PowerTypeSolar, PowerTypeWind, PowerTypeHydro,
		PowerTypeBiomass, PowerTypeGeothermal:
		return true
	default:
		return false
	}
}

// Source is an onboarded green-power generation facility. Sources are
// never deleted, only deactivated. CumulativeKWh only ever increases
// and is mutated exclusively by measurement ingest.
type Source struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Name            string    `gorm:"size:128"`
	PowerType       PowerType `gorm:"index;size:16"`
	GridConnection  string    `gorm:"size:128"`
	Location        string    `gorm:"size:128"`
	RatedCapacityKW uint64 `gorm:"column:rated_capacity_kw"`
	// CarbonFactor is the source's own emissions in kg CO2e per kWh,
	// subtracted from the grid factor when computing avoided carbon
	CarbonFactor     float64
	EfficiencyFactor float64
	CumulativeKWh    uint64 `gorm:"column:cumulative_kwh"`
	// No column default: gorm treats false as unset on insert when the
	// column carries one, silently activating the source
	Active bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Source) TableName() string {
	return "source"
}
