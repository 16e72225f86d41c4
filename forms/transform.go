// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package forms

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/roomops/roomops/store"
)

// dateLayout is the wire format for form dates
const dateLayout = "2006-01-02"

// BuildingForm is a building intake submission
type BuildingForm struct {
	BuildingName   string `json:"building_name"`
	FullAddress    string `json:"full_address,omitempty"`
	Street         string `json:"street,omitempty"`
	Area           string `json:"area,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	Zip            string `json:"zip,omitempty"`
	Floors         int    `json:"floors,omitempty"`
	TotalRooms     int    `json:"total_rooms,omitempty"`
	TotalBathrooms int    `json:"total_bathrooms,omitempty"`
	WifiIncluded   *bool  `json:"wifi_included,omitempty"`
	LaundryOnsite  *bool  `json:"laundry_onsite,omitempty"`
	OperatorID     *int   `json:"operator_id,omitempty"`
}

// TenantForm is a tenant intake submission. Dates arrive as "2006-01-02".
type TenantForm struct {
	TenantName        string  `json:"tenant_name"`
	TenantEmail       string  `json:"tenant_email,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	TenantNationality string  `json:"tenant_nationality,omitempty"`
	RoomID            *string `json:"room_id,omitempty"`
	RoomNumber        string  `json:"room_number,omitempty"`
	BuildingID        *string `json:"building_id,omitempty"`
	BookingType       string  `json:"booking_type,omitempty"`
	LeaseStartDate    string  `json:"lease_start_date,omitempty"`
	LeaseEndDate      string  `json:"lease_end_date,omitempty"`
	DepositAmount     float64 `json:"deposit_amount,omitempty"`
	OperatorID        *int    `json:"operator_id,omitempty"`
}

// LeadForm is a lead intake submission
type LeadForm struct {
	Email              string   `json:"email"`
	RoomsInterested    []string `json:"rooms_interested,omitempty"`
	SelectedRoomID     *string  `json:"selected_room_id,omitempty"`
	ShowingDates       []string `json:"showing_dates,omitempty"`
	PlannedMoveIn      string   `json:"planned_move_in,omitempty"`
	PlannedMoveOut     string   `json:"planned_move_out,omitempty"`
	VisaStatus         string   `json:"visa_status,omitempty"`
	AssignedOperatorID *int     `json:"assigned_operator_id,omitempty"`
}

func invalid(field, message string) Result {
	return Result{Errors: map[string]string{field: message}}
}

// TransformBuilding validates a building intake submission and turns it into
// a storage insert. The full address is assembled from the parts by the
// storage layer when left empty.
func (v *Validator) TransformBuilding(submission []byte) (store.BuildingInsert, Result) {
	result := v.ValidateString(string(submission), BuildingIntake)
	if !result.IsValid {
		return store.BuildingInsert{}, result
	}
	var form BuildingForm
	if err := json.Unmarshal(submission, &form); err != nil {
		return store.BuildingInsert{}, invalid("", err.Error())
	}
	return store.BuildingInsert{
		BuildingName:   form.BuildingName,
		FullAddress:    form.FullAddress,
		OperatorID:     form.OperatorID,
		Street:         form.Street,
		Area:           form.Area,
		City:           form.City,
		State:          form.State,
		Zip:            form.Zip,
		Floors:         form.Floors,
		TotalRooms:     form.TotalRooms,
		TotalBathrooms: form.TotalBathrooms,
		WifiIncluded:   form.WifiIncluded,
		LaundryOnsite:  form.LaundryOnsite,
	}, result
}

// TransformTenant validates a tenant intake submission and turns it into a
// storage insert. Cross-field check: when both lease dates are given, the end
// must come after the start.
func (v *Validator) TransformTenant(submission []byte) (store.TenantInsert, Result) {
	result := v.ValidateString(string(submission), TenantIntake)
	if !result.IsValid {
		return store.TenantInsert{}, result
	}
	var form TenantForm
	if err := json.Unmarshal(submission, &form); err != nil {
		return store.TenantInsert{}, invalid("", err.Error())
	}

	var leaseStart, leaseEnd *time.Time
	if form.LeaseStartDate != "" {
		t, err := time.Parse(dateLayout, form.LeaseStartDate)
		if err != nil {
			return store.TenantInsert{}, invalid("lease_start_date", "must be a date like 2026-01-31")
		}
		leaseStart = &t
	}
	if form.LeaseEndDate != "" {
		t, err := time.Parse(dateLayout, form.LeaseEndDate)
		if err != nil {
			return store.TenantInsert{}, invalid("lease_end_date", "must be a date like 2026-01-31")
		}
		leaseEnd = &t
	}
	if leaseStart != nil && leaseEnd != nil && !leaseEnd.After(*leaseStart) {
		return store.TenantInsert{}, invalid("lease_end_date", "must be after lease_start_date")
	}

	return store.TenantInsert{
		TenantName:        form.TenantName,
		TenantEmail:       form.TenantEmail,
		Phone:             form.Phone,
		TenantNationality: form.TenantNationality,
		RoomID:            form.RoomID,
		RoomNumber:        form.RoomNumber,
		BuildingID:        form.BuildingID,
		BookingType:       form.BookingType,
		LeaseStartDate:    leaseStart,
		LeaseEndDate:      leaseEnd,
		DepositAmount:     form.DepositAmount,
		OperatorID:        form.OperatorID,
	}, result
}

// TransformLead validates a lead intake submission and turns it into a
// storage insert. New leads always start at the beginning of the workflow
// with zero interactions.
func (v *Validator) TransformLead(submission []byte) (store.LeadInsert, Result) {
	result := v.ValidateString(string(submission), LeadIntake)
	if !result.IsValid {
		return store.LeadInsert{}, result
	}
	var form LeadForm
	if err := json.Unmarshal(submission, &form); err != nil {
		return store.LeadInsert{}, invalid("", err.Error())
	}

	insert := store.LeadInsert{
		Email:              form.Email,
		Status:             store.LeadExploring,
		InteractionCount:   0,
		SelectedRoomID:     form.SelectedRoomID,
		PlannedMoveIn:      form.PlannedMoveIn,
		PlannedMoveOut:     form.PlannedMoveOut,
		VisaStatus:         form.VisaStatus,
		AssignedOperatorID: form.AssignedOperatorID,
	}
	if len(form.RoomsInterested) > 0 {
		insert.RoomsInterested, _ = json.Marshal(form.RoomsInterested)
	}
	if len(form.ShowingDates) > 0 {
		insert.ShowingDates, _ = json.Marshal(form.ShowingDates)
	}
	return insert, result
}
