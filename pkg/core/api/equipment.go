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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/audiorack/gearsync/pkg/core/auth"
	"github.com/audiorack/gearsync/pkg/models"
)

func (s *APIServer) requestUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	return user, true
}

func (s *APIServer) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}

	return id, true
}

func (s *APIServer) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	filter, fields := parseListFilter(r, user.TeamID)
	if len(fields) > 0 {
		s.writeJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Message: "validation failed",
			Errors:  fields,
		})

		return
	}

	items, err := s.store.ListEquipment(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	count := len(items)
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: items, Count: &count})
}

func parseListFilter(r *http.Request, teamID string) (models.ListFilter, []models.FieldError) {
	q := r.URL.Query()
	filter := models.ListFilter{
		TeamID: teamID,
		Search: strings.TrimSpace(q.Get("search")),
	}

	var fields []models.FieldError

	if v := q.Get("category"); v != "" {
		c := models.Category(v)
		if !c.Valid() {
			fields = append(fields, models.FieldError{Field: "category", Message: "unknown category"})
		}

		filter.Category = &c
	}

	if v := q.Get("status"); v != "" {
		st := models.Status(v)
		if !st.Valid() {
			fields = append(fields, models.FieldError{Field: "status", Message: "unknown status"})
		}

		filter.Status = &st
	}

	if v := q.Get("condition"); v != "" {
		c := models.Condition(v)
		if !c.Valid() {
			fields = append(fields, models.FieldError{Field: "condition", Message: "unknown condition"})
		}

		filter.Condition = &c
	}

	return filter, fields
}

func (s *APIServer) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requestUser(w, r); !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	eq, err := s.store.GetEquipment(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: eq})
}

func (s *APIServer) handleCreateEquipment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	var req models.CreateEquipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if fields := validateCreate(&req); len(fields) > 0 {
		s.writeDomainError(w, &models.ValidationError{Errors: fields})
		return
	}

	eq, err := s.store.CreateEquipment(r.Context(), &req, user.Actor(), user.TeamID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.publishCommitted(r.Context(), user.TeamID, models.OperationCreate, eq, nil,
		newActivityEntry(models.OperationCreate, user.Actor(), user.TeamID, eq, nil, false))
	s.writeJSON(w, http.StatusCreated, models.APIResponse{Success: true, Data: eq})
}

func validateCreate(req *models.CreateEquipmentRequest) []models.FieldError {
	var fields []models.FieldError

	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)

	if req.Name == "" {
		fields = append(fields, models.FieldError{Field: "name", Message: "is required"})
	}

	if !req.Category.Valid() {
		fields = append(fields, models.FieldError{Field: "category", Message: "unknown category"})
	}

	if req.Location == "" {
		fields = append(fields, models.FieldError{Field: "location", Message: "is required"})
	}

	if req.Condition != nil && !req.Condition.Valid() {
		fields = append(fields, models.FieldError{Field: "condition", Message: "unknown condition"})
	}

	if req.Priority != nil && !req.Priority.Valid() {
		fields = append(fields, models.FieldError{Field: "priority", Message: "unknown priority"})
	}

	return fields
}

func (s *APIServer) handleUpdateEquipment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var patch models.EquipmentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if fields := validatePatch(&patch); len(fields) > 0 {
		s.writeDomainError(w, &models.ValidationError{Errors: fields})
		return
	}

	eq, err := s.store.UpdateEquipment(r.Context(), id, &patch, user.Actor())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.publishCommitted(r.Context(), user.TeamID, models.OperationUpdate, eq, nil,
		newActivityEntry(models.OperationUpdate, user.Actor(), user.TeamID, eq, nil, patch.Status != nil))
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: eq})
}

func validatePatch(patch *models.EquipmentPatch) []models.FieldError {
	var fields []models.FieldError

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		fields = append(fields, models.FieldError{Field: "name", Message: "cannot be empty"})
	}

	if patch.Category != nil && !patch.Category.Valid() {
		fields = append(fields, models.FieldError{Field: "category", Message: "unknown category"})
	}

	if patch.Status != nil && !patch.Status.Valid() {
		fields = append(fields, models.FieldError{Field: "status", Message: "unknown status"})
	}

	if patch.Condition != nil && !patch.Condition.Valid() {
		fields = append(fields, models.FieldError{Field: "condition", Message: "unknown condition"})
	}

	if patch.Priority != nil && !patch.Priority.Valid() {
		fields = append(fields, models.FieldError{Field: "priority", Message: "unknown priority"})
	}

	return fields
}

func (s *APIServer) handleDeleteEquipment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	// The body is optional; an absent or empty one means no reason given.
	var req models.DeleteEquipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	archived, err := s.store.ArchiveEquipment(r.Context(), id, user.Actor(), req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.publishCommitted(r.Context(), user.TeamID, models.OperationDelete, nil, archived,
		newActivityEntry(models.OperationDelete, user.Actor(), user.TeamID, nil, archived, false))
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: archived})
}

func (s *APIServer) handleListArchived(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	items, err := s.store.ListArchived(r.Context(), user.TeamID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	count := len(items)
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: items, Count: &count})
}

func (s *APIServer) handleRestoreEquipment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	eq, err := s.store.RestoreEquipment(r.Context(), id, user.Actor())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.publishCommitted(r.Context(), user.TeamID, models.OperationRestore, eq, nil,
		newActivityEntry(models.OperationRestore, user.Actor(), user.TeamID, eq, nil, false))
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: eq})
}

func (s *APIServer) handlePurgeEquipment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requestUser(w, r); !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.store.PurgeArchived(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "permanently deleted"})
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	stats, err := s.store.Stats(r.Context(), user.TeamID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: stats})
}

func (s *APIServer) handleEquipmentHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	items, err := s.store.ListHistory(r.Context(), id, user.TeamID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	count := len(items)
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: items, Count: &count})
}

func (s *APIServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	limit := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}

		limit = n
	}

	items, err := s.store.ListActivity(r.Context(), user.TeamID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	count := len(items)
	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: items, Count: &count})
}

// newActivityEntry derives the audit row for a committed mutation. Deletes
// carry the archived snapshot as old values; every other operation carries
// the post-commit record as new values.
func newActivityEntry(op models.Operation, actor models.Actor, teamID string, eq *models.Equipment, archived *models.ArchivedEquipment, statusChanged bool) *models.HistoryEntry {
	entry := &models.HistoryEntry{
		UserID:   actor.ID,
		UserName: actor.Name,
		TeamID:   teamID,
	}

	switch op {
	case models.OperationCreate:
		entry.EquipmentID = eq.ID
		entry.Action = models.ActionCreated
		entry.NewValues = snapshotJSON(eq)
	case models.OperationUpdate:
		entry.EquipmentID = eq.ID
		entry.Action = models.ActionUpdated

		if statusChanged {
			entry.Action = models.ActionStatusChanged
		}

		entry.NewValues = snapshotJSON(eq)
	case models.OperationDelete:
		entry.EquipmentID = archived.OriginalID
		entry.Action = models.ActionDeleted
		entry.OldValues = snapshotJSON(archived)
	case models.OperationRestore:
		entry.EquipmentID = eq.ID
		entry.Action = models.ActionRestored
		entry.NewValues = snapshotJSON(eq)
	}

	return entry
}

func snapshotJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return b
}

// publishCommitted records the audit entry for a committed mutation and fans
// the mutation, the audit entry, and a refreshed aggregate snapshot out to
// the scope, in that order. The HTTP response is not tied to any of it; the
// mutation already committed.
func (s *APIServer) publishCommitted(ctx context.Context, teamID string, op models.Operation, eq *models.Equipment, archived *models.ArchivedEquipment, entry *models.HistoryEntry) {
	if entry != nil {
		recorded, err := s.store.RecordHistory(ctx, entry)
		if err != nil {
			s.logger.Warn().Err(err).Str("team", teamID).Str("operation", string(op)).Msg("Failed to record audit entry")
			entry = nil
		} else {
			entry = recorded
		}
	}

	if s.broadcaster == nil {
		return
	}

	if err := s.broadcaster.PublishEquipment(ctx, teamID, op, eq, archived); err != nil {
		s.logger.Error().Err(err).Str("team", teamID).Str("operation", string(op)).Msg("Failed to broadcast mutation")
	}

	if entry != nil {
		if err := s.broadcaster.PublishActivity(ctx, teamID, entry); err != nil {
			s.logger.Warn().Err(err).Str("team", teamID).Msg("Failed to broadcast audit entry")
		}
	}

	stats, err := s.store.Stats(ctx, teamID)
	if err != nil {
		s.logger.Warn().Err(err).Str("team", teamID).Msg("Failed to compute stats snapshot")
		return
	}

	if err := s.broadcaster.PublishStats(ctx, teamID, stats); err != nil {
		s.logger.Warn().Err(err).Str("team", teamID).Msg("Failed to broadcast stats")
	}
}
