// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// LeadService exposes CRUD for leads plus the workflow operations that move a
// lead through the sales pipeline.
type LeadService struct {
	collection
}

const leadFields = `lead_id, email, status, interaction_count, rooms_interested, selected_room_id, showing_dates, planned_move_in, planned_move_out, visa_status, assigned_operator_id, created_at, updated_at`

func scanLead(scan func(dest ...interface{}) error, extra ...interface{}) (Lead, error) {
	var l Lead
	var roomsInterested, showingDates []byte
	var selectedRoomID sql.NullString
	var assignedOperatorID sql.NullInt64
	dest := []interface{}{
		&l.LeadID, &l.Email, &l.Status, &l.InteractionCount,
		&roomsInterested, &selectedRoomID, &showingDates,
		&l.PlannedMoveIn, &l.PlannedMoveOut, &l.VisaStatus,
		&assignedOperatorID, &l.CreatedAt, &l.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return Lead{}, err
	}
	l.RoomsInterested = json.RawMessage(roomsInterested)
	l.ShowingDates = json.RawMessage(showingDates)
	l.SelectedRoomID = stringPtr(selectedRoomID)
	l.AssignedOperatorID = intPtr(assignedOperatorID)
	return l, nil
}

func jsonColumn(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return []byte(`[]`)
	}
	return []byte(raw)
}

// Create inserts a new lead. The status defaults to EXPLORING; unknown status
// values are rejected.
func (s *LeadService) Create(ctx context.Context, insert LeadInsert) Response[Lead] {
	if s.store.Disabled() {
		return fail[Lead](s.disabledFault())
	}
	if insert.Email == "" {
		return fail[Lead](s.store.classifier.Process(ctx, "leads.create",
			invalidValue("email", "")))
	}
	status := insert.Status
	if status == "" {
		status = LeadExploring
	}
	if !leadStatuses[status] {
		return fail[Lead](s.store.classifier.Process(ctx, "leads.create",
			invalidValue("status", string(status))))
	}
	id := insert.LeadID
	if id == "" {
		id = newEntityID("LD")
	}

	var created Lead
	err := s.execute(ctx, "create", func(ctx context.Context) error {
		var exists string
		err := s.store.db.QueryRowContext(ctx,
			`SELECT lead_id FROM `+s.qualified()+` WHERE lead_id = $1`, id).Scan(&exists)
		if err == nil {
			return s.conflict("lead with this id already exists")
		}
		if err != sql.ErrNoRows {
			return err
		}
		row := s.store.db.QueryRowContext(ctx,
			`INSERT INTO `+s.qualified()+` (lead_id, email, status, interaction_count, rooms_interested, selected_room_id, showing_dates, planned_move_in, planned_move_out, visa_status, assigned_operator_id)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+leadFields,
			id, insert.Email, string(status), insert.InteractionCount,
			jsonColumn(insert.RoomsInterested), nullString(insert.SelectedRoomID),
			jsonColumn(insert.ShowingDates), insert.PlannedMoveIn, insert.PlannedMoveOut,
			insert.VisaStatus, nullInt(insert.AssignedOperatorID))
		created, err = scanLead(row.Scan)
		return err
	})
	if err != nil {
		return fail[Lead](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventInsert, Table: s.table, New: created, Timestamp: time.Now().UTC()})
	return ok(created, "lead created successfully")
}

// GetByID returns a single lead, served from cache when possible.
func (s *LeadService) GetByID(ctx context.Context, id string) Response[Lead] {
	if s.store.Disabled() {
		return fail[Lead](s.disabledFault())
	}
	key := s.cacheKey("id", id)
	if value, hit := s.store.cache.Get(key); hit {
		return ok(value.(Lead), "from cache")
	}

	var lead Lead
	err := s.execute(ctx, "read", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`SELECT `+leadFields+` FROM `+s.qualified()+` WHERE lead_id = $1`, id)
		var err error
		lead, err = scanLead(row.Scan)
		return err
	})
	if err != nil {
		return fail[Lead](toFault(err))
	}
	s.store.cache.Set(key, lead)
	return ok(lead, "")
}

// Update applies a partial update and stamps the updated_at column.
func (s *LeadService) Update(ctx context.Context, id string, patch LeadPatch) Response[Lead] {
	if s.store.Disabled() {
		return fail[Lead](s.disabledFault())
	}
	if patch.Status != nil && !leadStatuses[*patch.Status] {
		return fail[Lead](s.store.classifier.Process(ctx, "leads.update",
			invalidValue("status", string(*patch.Status))))
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.InteractionCount != nil {
		add("interaction_count", *patch.InteractionCount)
	}
	if patch.RoomsInterested != nil {
		add("rooms_interested", jsonColumn(patch.RoomsInterested))
	}
	if patch.SelectedRoomID != nil {
		add("selected_room_id", *patch.SelectedRoomID)
	}
	if patch.ShowingDates != nil {
		add("showing_dates", jsonColumn(patch.ShowingDates))
	}
	if patch.PlannedMoveIn != nil {
		add("planned_move_in", *patch.PlannedMoveIn)
	}
	if patch.PlannedMoveOut != nil {
		add("planned_move_out", *patch.PlannedMoveOut)
	}
	if patch.VisaStatus != nil {
		add("visa_status", *patch.VisaStatus)
	}
	if patch.AssignedOperatorID != nil {
		add("assigned_operator_id", *patch.AssignedOperatorID)
	}
	if len(sets) == 0 {
		return fail[Lead](s.store.classifier.Process(ctx, "leads.update",
			s.validation("no fields to update")))
	}

	query, args := s.updateClause(sets, args)
	var updated Lead
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx, query+` RETURNING `+leadFields,
			append([]interface{}{id}, args...)...)
		var err error
		updated, err = scanLead(row.Scan)
		return err
	})
	if err != nil {
		return fail[Lead](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "lead updated successfully")
}

// Delete removes a lead by id.
func (s *LeadService) Delete(ctx context.Context, id string) Response[bool] {
	return s.deleteByID(ctx, id)
}

// List returns a page of leads matching the options.
func (s *LeadService) List(ctx context.Context, options ListOptions) ListResponse[Lead] {
	if s.store.Disabled() {
		return failList[Lead](s.disabledFault())
	}
	key := s.cacheKey("list", options.signature())
	if value, hit := s.store.cache.Get(key); hit {
		cached := value.(ListResponse[Lead])
		cached.Message = "from cache"
		return cached
	}

	clause, args, err := s.listClauses(options)
	if err != nil {
		return failList[Lead](s.store.classifier.Process(ctx, "leads.list", err))
	}

	var leads []Lead
	var count int
	err = s.execute(ctx, "list", func(ctx context.Context) error {
		leads = nil
		count = 0
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+leadFields+`, count(*) OVER() AS full_count FROM `+s.qualified()+` `+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			lead, err := scanLead(rows.Scan, &count)
			if err != nil {
				return err
			}
			leads = append(leads, lead)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Lead](toFault(err))
	}
	response := okList(leads, count)
	s.store.cache.Set(key, response)
	return response
}

// AssignOperator sets the assigned operator and bumps the interaction count.
func (s *LeadService) AssignOperator(ctx context.Context, id string, operatorID int) Response[Lead] {
	if s.store.Disabled() {
		return fail[Lead](s.disabledFault())
	}

	var updated Lead
	err := s.execute(ctx, "assign_operator", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`UPDATE `+s.qualified()+` SET assigned_operator_id = $2, interaction_count = interaction_count + 1, updated_at = $3
WHERE lead_id = $1 RETURNING `+leadFields,
			id, operatorID, time.Now().UTC())
		var err error
		updated, err = scanLead(row.Scan)
		return err
	})
	if err != nil {
		return fail[Lead](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "operator assigned")
}

// ConvertToTenant creates a tenant from a lead and marks the lead CONVERTED.
// The two writes are separate statements, not a transaction: if the tenant
// insert fails the lead keeps its prior status, and if the status update fails
// after the tenant was created the tenant survives and the error reports the
// partial outcome.
func (s *LeadService) ConvertToTenant(ctx context.Context, id string, insert TenantInsert) Response[Tenant] {
	if s.store.Disabled() {
		return fail[Tenant](s.disabledFault())
	}

	lead := s.GetByID(ctx, id)
	if !lead.Success {
		return fail[Tenant](lead.Error)
	}
	if lead.Data.Status == LeadConverted {
		return fail[Tenant](s.store.classifier.Process(ctx, "leads.convert_to_tenant",
			s.conflict("lead is already converted")))
	}
	if insert.TenantEmail == "" {
		insert.TenantEmail = lead.Data.Email
	}
	if insert.RoomID == nil && lead.Data.SelectedRoomID != nil {
		insert.RoomID = lead.Data.SelectedRoomID
	}

	created := s.store.Tenants.Create(ctx, insert)
	if !created.Success {
		return fail[Tenant](created.Error)
	}

	status := LeadConverted
	marked := s.Update(ctx, id, LeadPatch{Status: &status})
	if !marked.Success {
		return Response[Tenant]{
			Data:    created.Data,
			Error:   marked.Error,
			Success: false,
			Message: "tenant created but lead could not be marked converted",
		}
	}
	return ok(created.Data, "lead converted successfully")
}
