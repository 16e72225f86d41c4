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

	"github.com/roomops/roomops/core/faults"
)

// TenantService exposes CRUD and tenant-specific queries
type TenantService struct {
	collection
}

const tenantFields = `tenant_id, tenant_name, room_id, room_number, lease_start_date, lease_end_date, operator_id, booking_type, tenant_nationality, tenant_email, phone, building_id, status, account_status, deposit_amount, payment_status, created_at, updated_at`

func scanTenant(scan func(dest ...interface{}) error, extra ...interface{}) (Tenant, error) {
	var t Tenant
	var roomID, buildingID sql.NullString
	var leaseStart, leaseEnd sql.NullTime
	var operatorID sql.NullInt64
	dest := []interface{}{
		&t.TenantID, &t.TenantName, &roomID, &t.RoomNumber,
		&leaseStart, &leaseEnd, &operatorID, &t.BookingType,
		&t.TenantNationality, &t.TenantEmail, &t.Phone, &buildingID,
		&t.Status, &t.AccountStatus, &t.DepositAmount, &t.PaymentStatus,
		&t.CreatedAt, &t.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return Tenant{}, err
	}
	t.RoomID = stringPtr(roomID)
	t.BuildingID = stringPtr(buildingID)
	t.LeaseStartDate = timePtr(leaseStart)
	t.LeaseEndDate = timePtr(leaseEnd)
	t.OperatorID = intPtr(operatorID)
	return t, nil
}

func validateTenantStatuses(status TenantStatus, account AccountStatus, payment PaymentStatus) *faults.Fault {
	if status != "" && !tenantStatuses[status] {
		return invalidValue("status", string(status))
	}
	if account != "" && !accountStatuses[account] {
		return invalidValue("account_status", string(account))
	}
	if payment != "" && !paymentStatuses[payment] {
		return invalidValue("payment_status", string(payment))
	}
	return nil
}

// Create inserts a new tenant. Lease dates, when both given, must satisfy
// lease_end_date > lease_start_date.
func (s *TenantService) Create(ctx context.Context, insert TenantInsert) Response[Tenant] {
	if s.store.Disabled() {
		return fail[Tenant](s.disabledFault())
	}
	if insert.TenantName == "" {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.create",
			invalidValue("tenant_name", "")))
	}
	if insert.LeaseStartDate != nil && insert.LeaseEndDate != nil &&
		!insert.LeaseEndDate.After(*insert.LeaseStartDate) {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.create",
			s.validation("lease_end_date must be after lease_start_date")))
	}
	status := insert.Status
	if status == "" {
		status = TenantActive
	}
	account := insert.AccountStatus
	if account == "" {
		account = AccountActive
	}
	payment := insert.PaymentStatus
	if payment == "" {
		payment = PaymentCurrent
	}
	if fault := validateTenantStatuses(status, account, payment); fault != nil {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.create", fault))
	}
	id := insert.TenantID
	if id == "" {
		id = newEntityID("TEN")
	}

	var created Tenant
	err := s.execute(ctx, "create", func(ctx context.Context) error {
		var exists string
		err := s.store.db.QueryRowContext(ctx,
			`SELECT tenant_id FROM `+s.qualified()+` WHERE tenant_id = $1`, id).Scan(&exists)
		if err == nil {
			return s.conflict("tenant with this id already exists")
		}
		if err != sql.ErrNoRows {
			return err
		}
		row := s.store.db.QueryRowContext(ctx,
			`INSERT INTO `+s.qualified()+` (tenant_id, tenant_name, room_id, room_number, lease_start_date, lease_end_date, operator_id, booking_type, tenant_nationality, tenant_email, phone, building_id, status, account_status, deposit_amount, payment_status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING `+tenantFields,
			id, insert.TenantName, nullString(insert.RoomID), insert.RoomNumber,
			nullTime(insert.LeaseStartDate), nullTime(insert.LeaseEndDate),
			nullInt(insert.OperatorID), insert.BookingType, insert.TenantNationality,
			insert.TenantEmail, insert.Phone, nullString(insert.BuildingID),
			string(status), string(account), insert.DepositAmount, string(payment))
		created, err = scanTenant(row.Scan)
		return err
	})
	if err != nil {
		return fail[Tenant](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventInsert, Table: s.table, New: created, Timestamp: time.Now().UTC()})
	return ok(created, "tenant created successfully")
}

// GetByID returns a single tenant, served from cache when possible.
func (s *TenantService) GetByID(ctx context.Context, id string) Response[Tenant] {
	if s.store.Disabled() {
		return fail[Tenant](s.disabledFault())
	}
	key := s.cacheKey("id", id)
	if value, hit := s.store.cache.Get(key); hit {
		return ok(value.(Tenant), "from cache")
	}

	var tenant Tenant
	err := s.execute(ctx, "read", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx,
			`SELECT `+tenantFields+` FROM `+s.qualified()+` WHERE tenant_id = $1`, id)
		var err error
		tenant, err = scanTenant(row.Scan)
		return err
	})
	if err != nil {
		return fail[Tenant](toFault(err))
	}
	s.store.cache.Set(key, tenant)
	return ok(tenant, "")
}

// Update applies a partial update and stamps the updated_at column. The
// lease-date invariant is only checked when both dates appear in the patch;
// patching one date against a stored counterpart is accepted unchecked, as
// the form layer owns that validation.
func (s *TenantService) Update(ctx context.Context, id string, patch TenantPatch) Response[Tenant] {
	if s.store.Disabled() {
		return fail[Tenant](s.disabledFault())
	}
	var status TenantStatus
	if patch.Status != nil {
		status = *patch.Status
	}
	var account AccountStatus
	if patch.AccountStatus != nil {
		account = *patch.AccountStatus
	}
	var payment PaymentStatus
	if patch.PaymentStatus != nil {
		payment = *patch.PaymentStatus
	}
	if fault := validateTenantStatuses(status, account, payment); fault != nil {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.update", fault))
	}
	if patch.LeaseStartDate != nil && patch.LeaseEndDate != nil &&
		!patch.LeaseEndDate.After(*patch.LeaseStartDate) {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.update",
			s.validation("lease_end_date must be after lease_start_date")))
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if patch.TenantName != nil {
		add("tenant_name", *patch.TenantName)
	}
	if patch.RoomID != nil {
		add("room_id", *patch.RoomID)
	}
	if patch.RoomNumber != nil {
		add("room_number", *patch.RoomNumber)
	}
	if patch.LeaseStartDate != nil {
		add("lease_start_date", *patch.LeaseStartDate)
	}
	if patch.LeaseEndDate != nil {
		add("lease_end_date", *patch.LeaseEndDate)
	}
	if patch.OperatorID != nil {
		add("operator_id", *patch.OperatorID)
	}
	if patch.BookingType != nil {
		add("booking_type", *patch.BookingType)
	}
	if patch.TenantNationality != nil {
		add("tenant_nationality", *patch.TenantNationality)
	}
	if patch.TenantEmail != nil {
		add("tenant_email", *patch.TenantEmail)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.BuildingID != nil {
		add("building_id", *patch.BuildingID)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.AccountStatus != nil {
		add("account_status", string(*patch.AccountStatus))
	}
	if patch.DepositAmount != nil {
		add("deposit_amount", *patch.DepositAmount)
	}
	if patch.PaymentStatus != nil {
		add("payment_status", string(*patch.PaymentStatus))
	}
	if len(sets) == 0 {
		return fail[Tenant](s.store.classifier.Process(ctx, "tenants.update",
			s.validation("no fields to update")))
	}

	query, args := s.updateClause(sets, args)
	var updated Tenant
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		row := s.store.db.QueryRowContext(ctx, query+` RETURNING `+tenantFields,
			append([]interface{}{id}, args...)...)
		var err error
		updated, err = scanTenant(row.Scan)
		return err
	})
	if err != nil {
		return fail[Tenant](toFault(err))
	}
	s.invalidate()
	s.store.notify(Event{EventType: EventUpdate, Table: s.table, New: updated, Timestamp: time.Now().UTC()})
	return ok(updated, "tenant updated successfully")
}

// Delete removes a tenant by id.
func (s *TenantService) Delete(ctx context.Context, id string) Response[bool] {
	return s.deleteByID(ctx, id)
}

// List returns a page of tenants matching the options.
func (s *TenantService) List(ctx context.Context, options ListOptions) ListResponse[Tenant] {
	if s.store.Disabled() {
		return failList[Tenant](s.disabledFault())
	}
	key := s.cacheKey("list", options.signature())
	if value, hit := s.store.cache.Get(key); hit {
		cached := value.(ListResponse[Tenant])
		cached.Message = "from cache"
		return cached
	}

	clause, args, err := s.listClauses(options)
	if err != nil {
		return failList[Tenant](s.store.classifier.Process(ctx, "tenants.list", err))
	}

	var tenants []Tenant
	var count int
	err = s.execute(ctx, "list", func(ctx context.Context) error {
		tenants = nil
		count = 0
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+tenantFields+`, count(*) OVER() AS full_count FROM `+s.qualified()+` `+clause, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			tenant, err := scanTenant(rows.Scan, &count)
			if err != nil {
				return err
			}
			tenants = append(tenants, tenant)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Tenant](toFault(err))
	}
	response := okList(tenants, count)
	s.store.cache.Set(key, response)
	return response
}

// ListWithUpcomingLeaseExpiration returns active tenants whose lease ends
// within the given number of days, soonest first. Bypasses the query cache.
func (s *TenantService) ListWithUpcomingLeaseExpiration(ctx context.Context, withinDays int) ListResponse[Tenant] {
	if s.store.Disabled() {
		return failList[Tenant](s.disabledFault())
	}
	if withinDays <= 0 {
		withinDays = 30
	}
	horizon := time.Now().UTC().AddDate(0, 0, withinDays)

	var tenants []Tenant
	err := s.execute(ctx, "list_upcoming_lease_expiration", func(ctx context.Context) error {
		tenants = nil
		rows, err := s.store.db.QueryContext(ctx,
			`SELECT `+tenantFields+` FROM `+s.qualified()+`
WHERE status = $1 AND lease_end_date IS NOT NULL AND lease_end_date >= now() AND lease_end_date <= $2
ORDER BY lease_end_date ASC`,
			string(TenantActive), horizon)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			tenant, err := scanTenant(rows.Scan)
			if err != nil {
				return err
			}
			tenants = append(tenants, tenant)
		}
		return rows.Err()
	})
	if err != nil {
		return failList[Tenant](toFault(err))
	}
	return okList(tenants, len(tenants))
}
