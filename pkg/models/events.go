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

// Operation tags a mutation event.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationRestore Operation = "restore"
)

// Sync message types carried on the subscription channel.
const (
	MessageTypeJoin            = "join"
	MessageTypeJoined          = "joined"
	MessageTypeEquipmentUpdate = "equipment-update"
	MessageTypeStatsUpdate     = "stats-update"
	MessageTypeActivityUpdate  = "activity-update"
	MessageTypePing            = "ping"
	MessageTypeError           = "error"
)

// SyncMessage is the single wire frame for the subscription channel, in both
// directions. Type selects which optional payload fields are set.
type SyncMessage struct {
	Type      string             `json:"type"`
	Team      string             `json:"team,omitempty"`
	Operation Operation          `json:"operation,omitempty"`
	Equipment *Equipment         `json:"equipment,omitempty"`
	Archived  *ArchivedEquipment `json:"archived,omitempty"`
	Stats     *StatsSnapshot     `json:"stats,omitempty"`
	Activity  *HistoryEntry      `json:"activity,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewEquipmentUpdate builds the broadcast frame for a committed mutation.
// The snapshot is the post-commit record; for deletes it is the last active
// state and Archived carries the archive entry.
func NewEquipmentUpdate(team string, op Operation, eq *Equipment, archived *ArchivedEquipment) SyncMessage {
	return SyncMessage{
		Type:      MessageTypeEquipmentUpdate,
		Team:      team,
		Operation: op,
		Equipment: eq,
		Archived:  archived,
		Timestamp: time.Now().UTC(),
	}
}

// NewActivityUpdate builds the audit-feed frame for a recorded entry.
func NewActivityUpdate(team string, entry *HistoryEntry) SyncMessage {
	return SyncMessage{
		Type:      MessageTypeActivityUpdate,
		Team:      team,
		Activity:  entry,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatsUpdate builds the best-effort informational frame.
func NewStatsUpdate(team string, stats *StatsSnapshot) SyncMessage {
	return SyncMessage{
		Type:      MessageTypeStatsUpdate,
		Team:      team,
		Stats:     stats,
		Timestamp: time.Now().UTC(),
	}
}
