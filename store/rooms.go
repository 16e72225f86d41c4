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
)

// RoomService exposes CRUD and room-specific queries
type RoomService struct {
	collection
}

const roomFields = `room_id, room_number, building_id, floor_number, maximum_people_in_room, private_room_rent, bathroom_type, bed_size, bed_type, view, sq_footage, status, created_at, last_modified`

func scanRoom(scan func(dest ...interface{}) error, extra ...interface{}) (Room, error) {
	var r Room
	dest := []interface{}{
		&r.RoomID, &r.RoomNumber, &r.BuildingID, &r.FloorNumber,
		&r.MaximumPeopleInRoom, &r.PrivateRoomRent, &r.BathroomType,
		&r.BedSize, &r.BedType, &r.View, &r.SqFootage, &r.Status,
		&r.CreatedAt, &r.LastModified,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return Room{}, err
	}
	return r, nil
}

// Create inserts a new room. The status defaults to AVAILABLE; unknown status
// values are rejected.
func (s *RoomService) Create(ctx context.Context, insert RoomInsert) Response[Room] {
	if s.store.Disabled() {
		return fail[Room](s.disabledFault())
	}
	if insert.RoomNumber == "" {
		return fail[Room](s.store.classifier.Process(ctx, "rooms.create",
			invalidValue("room_number", "")))
	}
	if insert.BuildingID == "" {
		return fail[Room](s.store.classifier.Process(ctx, "rooms.create",
			invalidValue("building_id", "")))
	}
	status := insert.Status
	if status == "" {
		status = RoomAvailable
	}
	if !roomStatuses[status] {
		return fail[Room](s.store.classifier.Process(ctx, "rooms.create",
			invalidValue("status", string(status))))
	}
	id := insert.RoomID
	if id == "" {
		id = newEntityID("RM")
	}
	people := insert.MaximumPeopleInRoom
	if people < 1 {
		people = 1
	}

	var created Room
	err := s.execute(ctx, "create", func(ctx context.Context) error {
		var exists string
		err := s.store.db.QueryRowContext(ctx,
			`SELECT room_id FROM `+s.qualified()+` WHERE room_id = $1`, id).Scan(&exists)
		if err == nil {
			return s.conflict("room with this id already exists")
		}
		if err != sql.ErrNoRows {
			return err
		}
		row := s.store.db.QueryRowContext(ctx,
			`INSERT INTO `+s.qualified()+` (room_id, room_number, building_id, floor_number, maximum_people_in_room, private_room_rent, bathroom_type, bed_size, bed_type, view, sq_footage, status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING `+roomFields,
			id, insert.RoomNumber, insert.BuildingID, insert.FloorNumber, people,
			insert.PrivateRoomRent, insert.BathroomType, insert.BedSize, insert.BedType,
			insert.View, insert.SqFootage, string(status))
		created, err = scanRoom(row.Scan)
		return err
	})
	if err != nil {
		return fail[Room](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventInsert, Table: s.table, New: created, Timestamp: time.Now().UTC()})
	return ok(created, "room created successfully")
}

// GetByID returns a single room, served from cache when possible.
func (s *RoomService) GetByID(ctx context.Context, id string) Response[Room] {
	if s.store.Disabled() {
		return fail[Room](s.disabledFault())
	}
	key := s.cacheKey("id", id)
	if value, hit := s.store.cache.Get(key); hit {
		return ok(value.(Room), "from cache")
	}

	var room Room
	err := s.execute(ctx, "read", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`SELECT `+roomFields+` FROM `+s.qualified()+` WHERE room_id = $1`, id)
		var err error
		room, err = scanRoom(row.Scan)
		return err
	})
	if err != nil {
		return fail[Room](toFault(err))
	}
	s.store.cache.Set(key, room)
	return ok(room, "")
}

// Update applies a partial update and stamps the last_modified column.
func (s *RoomService) Update(ctx context.Context, id string, patch RoomPatch) Response[Room] {
	if s.store.Disabled() {
		return fail[Room](s.disabledFault())
	}
	if patch.Status != nil && !roomStatuses[*patch.Status] {
		return fail[Room](s.store.classifier.Process(ctx, "rooms.update",
			invalidValue("status", string(*patch.Status))))
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if patch.RoomNumber != nil {
		add("room_number", *patch.RoomNumber)
	}
	if patch.FloorNumber != nil {
		add("floor_number", *patch.FloorNumber)
	}
	if patch.MaximumPeopleInRoom != nil {
		add("maximum_people_in_room", *patch.MaximumPeopleInRoom)
	}
	if patch.PrivateRoomRent != nil {
		add("private_room_rent", *patch.PrivateRoomRent)
	}
	if patch.BathroomType != nil {
		add("bathroom_type", *patch.BathroomType)
	}
	if patch.BedSize != nil {
		add("bed_size", *patch.BedSize)
	}
	if patch.BedType != nil {
		add("bed_type", *patch.BedType)
	}
	if patch.View != nil {
		add("view", *patch.View)
	}
	if patch.SqFootage != nil {
		add("sq_footage", *patch.SqFootage)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if len(sets) == 0 {
		return fail[Room](s.store.classifier.Process(ctx, "rooms.update",
			s.validation("no fields to update")))
	}

	query, args := s.updateClause(sets, args)
	var updated Room
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx, query+` RETURNING `+roomFields,
			append([]interface{}{id}, args...)...)
		var err error
		updated, err = scanRoom(row.Scan)
		return err
	})
	if err != nil {
		return fail[Room](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "room updated successfully")
}

// Delete removes a room by id.
func (s *RoomService) Delete(ctx context.Context, id string) Response[bool] {
	return s.deleteByID(ctx, id)
}

// List returns a page of rooms matching the options.
func (s *RoomService) List(ctx context.Context, options ListOptions) ListResponse[Room] {
	if s.store.Disabled() {
		return failList[Room](s.disabledFault())
	}
	key := s.cacheKey("list", options.signature())
	if value, hit := s.store.cache.Get(key); hit {
		cached := value.(ListResponse[Room])
		cached.Message = "from cache"
		return cached
	}

	clause, args, err := s.listClauses(options)
	if err != nil {
		return failList[Room](s.store.classifier.Process(ctx, "rooms.list", err))
	}

	var rooms []Room
	var count int
	err = s.execute(ctx, "list", func(ctx context.Context) error {
		rooms = nil
		count = 0
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+roomFields+`, count(*) OVER() AS full_count FROM `+s.qualified()+` `+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			room, err := scanRoom(rows.Scan, &count)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Room](toFault(err))
	}
	response := okList(rooms, count)
	s.store.cache.Set(key, response)
	return response
}

// ListByBuilding returns all rooms of one building, bypassing the query cache.
func (s *RoomService) ListByBuilding(ctx context.Context, buildingID string) ListResponse[Room] {
	if s.store.Disabled() {
		return failList[Room](s.disabledFault())
	}

	var rooms []Room
	err := s.execute(ctx, "list_by_building", func(ctx context.Context) error {
		rooms = nil
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+roomFields+` FROM `+s.qualified()+` WHERE building_id = $1 ORDER BY room_number ASC`, buildingID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			room, err := scanRoom(rows.Scan)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Room](toFault(err))
	}
	return okList(rooms, len(rooms))
}

// ListByPriceRange returns available rooms whose rent lies within [min, max],
// bypassing the query cache.
func (s *RoomService) ListByPriceRange(ctx context.Context, min, max float64) ListResponse[Room] {
	if s.store.Disabled() {
		return failList[Room](s.disabledFault())
	}
	if max < min {
		return failList[Room](s.store.classifier.Process(ctx, "rooms.list_by_price_range",
			s.validation("max price must not be below min price")))
	}

	var rooms []Room
	err := s.execute(ctx, "list_by_price_range", func(ctx context.Context) error {
		rooms = nil
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+roomFields+` FROM `+s.qualified()+` WHERE status = $1 AND private_room_rent BETWEEN $2 AND $3 ORDER BY private_room_rent ASC`,
			string(RoomAvailable), min, max)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			room, err := scanRoom(rows.Scan)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Room](toFault(err))
	}
	return okList(rooms, len(rooms))
}
