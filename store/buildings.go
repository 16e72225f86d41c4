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
	"strings"
	"time"
)

// BuildingService exposes CRUD and building-specific queries
type BuildingService struct {
	collection
}

const buildingFields = `building_id, building_name, full_address, operator_id, street, area, city, state, zip, floors, total_rooms, total_bathrooms, wifi_included, laundry_onsite, created_at, last_modified`

func scanBuilding(scan func(dest ...interface{}) error, extra ...interface{}) (Building, error) {
	var b Building
	var operatorID sql.NullInt64
	dest := []interface{}{
		&b.BuildingID, &b.BuildingName, &b.FullAddress, &operatorID,
		&b.Street, &b.Area, &b.City, &b.State, &b.Zip,
		&b.Floors, &b.TotalRooms, &b.TotalBathrooms,
		&b.WifiIncluded, &b.LaundryOnsite, &b.CreatedAt, &b.LastModified,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return Building{}, err
	}
	b.OperatorID = intPtr(operatorID)
	return b, nil
}

// assembleFullAddress joins the address parts when no full address was provided
func assembleFullAddress(street, area, city, state, zip string) string {
	var parts []string
	for _, part := range []string{street, area, city, state, zip} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// Create inserts a new building. An empty BuildingID gets a generated
// identifier; a duplicate identifier is rejected as a conflict before the
// insert is attempted.
func (s *BuildingService) Create(ctx context.Context, insert BuildingInsert) Response[Building] {
	if s.store.Disabled() {
		return fail[Building](s.disabledFault())
	}
	if insert.BuildingName == "" {
		return fail[Building](s.store.classifier.Process(ctx, "buildings.create",
			invalidValue("building_name", "")))
	}
	id := insert.BuildingID
	if id == "" {
		id = newEntityID("BLD")
	}
	fullAddress := insert.FullAddress
	if fullAddress == "" {
		fullAddress = assembleFullAddress(insert.Street, insert.Area, insert.City, insert.State, insert.Zip)
	}
	wifi := true
	if insert.WifiIncluded != nil {
		wifi = *insert.WifiIncluded
	}
	laundry := true
	if insert.LaundryOnsite != nil {
		laundry = *insert.LaundryOnsite
	}

	var created Building
	err := s.execute(ctx, "create", func(ctx context.Context) error {
		var exists string
		err := s.store.db.QueryRowContext(ctx,
			`SELECT building_id FROM `+s.qualified()+` WHERE building_id = $1`, id).Scan(&exists)
		if err == nil {
			return s.conflict("building with this id already exists")
		}
		if err != sql.ErrNoRows {
			return err
		}
		row := s.store.db.QueryRowContext(ctx,
			`INSERT INTO `+s.qualified()+` (building_id, building_name, full_address, operator_id, street, area, city, state, zip, floors, total_rooms, total_bathrooms, wifi_included, laundry_onsite)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING `+buildingFields,
			id, insert.BuildingName, fullAddress, nullInt(insert.OperatorID),
			insert.Street, insert.Area, insert.City, insert.State, insert.Zip,
			insert.Floors, insert.TotalRooms, insert.TotalBathrooms, wifi, laundry)
		created, err = scanBuilding(row.Scan)
		return err
	})
	if err != nil {
		return fail[Building](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventInsert, Table: s.table, New: created, Timestamp: time.Now().UTC()})
	return ok(created, "building created successfully")
}

// GetByID returns a single building, served from cache when possible.
func (s *BuildingService) GetByID(ctx context.Context, id string) Response[Building] {
	if s.store.Disabled() {
		return fail[Building](s.disabledFault())
	}
	key := s.cacheKey("id", id)
	if value, hit := s.store.cache.Get(key); hit {
		return ok(value.(Building), "from cache")
	}

	var building Building
	err := s.execute(ctx, "read", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`SELECT `+buildingFields+` FROM `+s.qualified()+` WHERE building_id = $1`, id)
		var err error
		building, err = scanBuilding(row.Scan)
		return err
	})
	if err != nil {
		return fail[Building](toFault(err))
	}
	s.store.cache.Set(key, building)
	return ok(building, "")
}

// Update applies a partial update and stamps the last_modified column.
func (s *BuildingService) Update(ctx context.Context, id string, patch BuildingPatch) Response[Building] {
	if s.store.Disabled() {
		return fail[Building](s.disabledFault())
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if patch.BuildingName != nil {
		add("building_name", *patch.BuildingName)
	}
	if patch.FullAddress != nil {
		add("full_address", *patch.FullAddress)
	}
	if patch.OperatorID != nil {
		add("operator_id", *patch.OperatorID)
	}
	if patch.Street != nil {
		add("street", *patch.Street)
	}
	if patch.Area != nil {
		add("area", *patch.Area)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.State != nil {
		add("state", *patch.State)
	}
	if patch.Zip != nil {
		add("zip", *patch.Zip)
	}
	if patch.Floors != nil {
		add("floors", *patch.Floors)
	}
	if patch.TotalRooms != nil {
		add("total_rooms", *patch.TotalRooms)
	}
	if patch.TotalBathrooms != nil {
		add("total_bathrooms", *patch.TotalBathrooms)
	}
	if patch.WifiIncluded != nil {
		add("wifi_included", *patch.WifiIncluded)
	}
	if patch.LaundryOnsite != nil {
		add("laundry_onsite", *patch.LaundryOnsite)
	}
	if len(sets) == 0 {
		return fail[Building](s.store.classifier.Process(ctx, "buildings.update",
			s.validation("no fields to update")))
	}

	query, args := s.updateClause(sets, args)
	var updated Building
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx, query+` RETURNING `+buildingFields,
			append([]interface{}{id}, args...)...)
		var err error
		updated, err = scanBuilding(row.Scan)
		return err
	})
	if err != nil {
		return fail[Building](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "building updated successfully")
}

// Delete removes a building by id. Rooms and tenants referencing the building
// are not checked or removed.
func (s *BuildingService) Delete(ctx context.Context, id string) Response[bool] {
	return s.deleteByID(ctx, id)
}

// List returns a page of buildings matching the options.
func (s *BuildingService) List(ctx context.Context, options ListOptions) ListResponse[Building] {
	if s.store.Disabled() {
		return failList[Building](s.disabledFault())
	}
	key := s.cacheKey("list", options.signature())
	if value, hit := s.store.cache.Get(key); hit {
		cached := value.(ListResponse[Building])
		cached.Message = "from cache"
		return cached
	}

	clause, args, err := s.listClauses(options)
	if err != nil {
		return failList[Building](s.store.classifier.Process(ctx, "buildings.list", err))
	}

	var buildings []Building
	var count int
	err = s.execute(ctx, "list", func(ctx context.Context) error {
		buildings = nil
		count = 0
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+buildingFields+`, count(*) OVER() AS full_count FROM `+s.qualified()+` `+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			building, err := scanBuilding(rows.Scan, &count)
			if err != nil {
				return err
			}
			buildings = append(buildings, building)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Building](toFault(err))
	}
	response := okList(buildings, count)
	s.store.cache.Set(key, response)
	return response
}

// BuildingWithAvailability is a building plus its current number of available rooms
type BuildingWithAvailability struct {
	Building
	AvailableRooms int `json:"available_rooms"`
}

// ListWithAvailableRooms returns the buildings that currently have at least
// one available room. This is a one-off join that bypasses the query cache.
func (s *BuildingService) ListWithAvailableRooms(ctx context.Context) ListResponse[BuildingWithAvailability] {
	if s.store.Disabled() {
		return failList[BuildingWithAvailability](s.disabledFault())
	}

	var buildings []BuildingWithAvailability
	err := s.execute(ctx, "list_with_available_rooms", func(ctx context.Context) error {
		buildings = nil
		qualified := func(table string) string { return s.store.db.Schema + `."` + table + `"` }
		rows, err := s.store.db.QueryContext(ctx, `
SELECT `+prefixColumns("b", buildingFields)+`, count(r.room_id) AS available_rooms
FROM `+qualified("buildings")+` b
JOIN `+qualified("rooms")+` r ON r.building_id = b.building_id AND r.status = $1
GROUP BY `+prefixColumns("b", buildingFields)+`
ORDER BY b.building_name ASC`, string(RoomAvailable))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var entry BuildingWithAvailability
			building, err := scanBuilding(rows.Scan, &entry.AvailableRooms)
			if err != nil {
				return err
			}
			entry.Building = building
			buildings = append(buildings, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[BuildingWithAvailability](toFault(err))
	}
	return okList(buildings, len(buildings))
}
