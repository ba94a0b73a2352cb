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

package models

import "time"

// APIResponse is the JSON envelope for every gateway endpoint.
type APIResponse struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Count   *int         `json:"count,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// CORSConfig restricts browser origins for the HTTP and WebSocket surfaces.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
}

// CreateEquipmentRequest is the body of POST /api/equipment.
type CreateEquipmentRequest struct {
	Name         string     `json:"name"`
	Category     Category   `json:"category"`
	Location     string     `json:"location"`
	Notes        string     `json:"notes,omitempty"`
	SerialNumber *string    `json:"serialNumber,omitempty"`
	Barcode      *string    `json:"barcode,omitempty"`
	Vendor       *string    `json:"vendor,omitempty"`
	Model        *string    `json:"model,omitempty"`
	Condition    *Condition `json:"condition,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
}

// DeleteEquipmentRequest is the optional body of DELETE /api/equipment/{id}.
type DeleteEquipmentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// ListFilter narrows GET /api/equipment results.
type ListFilter struct {
	TeamID    string
	Search    string
	Category  *Category
	Status    *Status
	Condition *Condition
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// LoginResponse carries the issued token and the resolved user.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}
