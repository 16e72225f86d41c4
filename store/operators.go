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

// OperatorService exposes CRUD for operators. Unlike the other entities, the
// operator identifier is numeric and assigned by the database.
type OperatorService struct {
	collection
}

const operatorFields = `operator_id, name, email, phone, role, active, date_joined, last_active, operator_type`

func scanOperator(scan func(dest ...interface{}) error, extra ...interface{}) (Operator, error) {
	var o Operator
	var dateJoined, lastActive sql.NullTime
	dest := []interface{}{
		&o.OperatorID, &o.Name, &o.Email, &o.Phone, &o.Role,
		&o.Active, &dateJoined, &lastActive, &o.OperatorType,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return Operator{}, err
	}
	o.DateJoined = timePtr(dateJoined)
	o.LastActive = timePtr(lastActive)
	return o, nil
}

// Create inserts a new operator. The email must be unique; a duplicate
// surfaces as a conflict from the unique index.
func (s *OperatorService) Create(ctx context.Context, insert OperatorInsert) Response[Operator] {
	if s.store.Disabled() {
		return fail[Operator](s.disabledFault())
	}
	if insert.Name == "" {
		return fail[Operator](s.store.classifier.Process(ctx, "operators.create",
			invalidValue("name", "")))
	}
	if insert.Email == "" {
		return fail[Operator](s.store.classifier.Process(ctx, "operators.create",
			invalidValue("email", "")))
	}
	operatorType := insert.OperatorType
	if operatorType == "" {
		operatorType = OperatorLeasingAgent
	}
	if !operatorTypes[operatorType] {
		return fail[Operator](s.store.classifier.Process(ctx, "operators.create",
			invalidValue("operator_type", string(operatorType))))
	}
	active := true
	if insert.Active != nil {
		active = *insert.Active
	}

	var created Operator
	err := s.execute(ctx, "create", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`INSERT INTO `+s.qualified()+` (name, email, phone, role, active, date_joined, operator_type)
VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING `+operatorFields,
			insert.Name, insert.Email, insert.Phone, insert.Role, active,
			nullTime(insert.DateJoined), string(operatorType))
		var err error
		created, err = scanOperator(row.Scan)
		return err
	})
	if err != nil {
		return fail[Operator](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventInsert, Table: s.table, New: created, Timestamp: time.Now().UTC()})
	return ok(created, "operator created successfully")
}

// GetByID returns a single operator, served from cache when possible.
func (s *OperatorService) GetByID(ctx context.Context, id int) Response[Operator] {
	if s.store.Disabled() {
		return fail[Operator](s.disabledFault())
	}
	key := s.cacheKey("id", fmt.Sprintf("%d", id))
	if value, hit := s.store.cache.Get(key); hit {
		return ok(value.(Operator), "from cache")
	}

	var operator Operator
	err := s.execute(ctx, "read", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`SELECT `+operatorFields+` FROM `+s.qualified()+` WHERE operator_id = $1`, id)
		var err error
		operator, err = scanOperator(row.Scan)
		return err
	})
	if err != nil {
		return fail[Operator](toFault(err))
	}
	s.store.cache.Set(key, operator)
	return ok(operator, "")
}

// Update applies a partial update and stamps the last_active column.
func (s *OperatorService) Update(ctx context.Context, id int, patch OperatorPatch) Response[Operator] {
	if s.store.Disabled() {
		return fail[Operator](s.disabledFault())
	}
	if patch.OperatorType != nil && !operatorTypes[*patch.OperatorType] {
		return fail[Operator](s.store.classifier.Process(ctx, "operators.update",
			invalidValue("operator_type", string(*patch.OperatorType))))
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.OperatorType != nil {
		add("operator_type", string(*patch.OperatorType))
	}
	if len(sets) == 0 {
		return fail[Operator](s.store.classifier.Process(ctx, "operators.update",
			s.validation("no fields to update")))
	}

	query, args := s.updateClause(sets, args)
	var updated Operator
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx, query+` RETURNING `+operatorFields,
			append([]interface{}{id}, args...)...)
		var err error
		updated, err = scanOperator(row.Scan)
		return err
	})
	if err != nil {
		return fail[Operator](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "operator updated successfully")
}

// Delete removes an operator by id. Buildings and leads referencing the
// operator keep their dangling reference.
func (s *OperatorService) Delete(ctx context.Context, id int) Response[bool] {
	return s.deleteByID(ctx, id)
}

// List returns a page of operators matching the options.
func (s *OperatorService) List(ctx context.Context, options ListOptions) ListResponse[Operator] {
	if s.store.Disabled() {
		return failList[Operator](s.disabledFault())
	}
	key := s.cacheKey("list", options.signature())
	if value, hit := s.store.cache.Get(key); hit {
		cached := value.(ListResponse[Operator])
		cached.Message = "from cache"
		return cached
	}

	clause, args, err := s.listClauses(options)
	if err != nil {
		return failList[Operator](s.store.classifier.Process(ctx, "operators.list", err))
	}

	var operators []Operator
	var count int
	err = s.execute(ctx, "list", func(ctx context.Context) error {
		operators = nil
		count = 0
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+operatorFields+`, count(*) OVER() AS full_count FROM `+s.qualified()+` `+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			operator, err := scanOperator(rows.Scan, &count)
			if err != nil {
				return err
			}
			operators = append(operators, operator)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Operator](toFault(err))
	}
	response := okList(operators, count)
	s.store.cache.Set(key, response)
	return response
}
