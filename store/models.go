package store

import (
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/roomops/roomops/core/faults"
)

// RoomStatus is the occupancy state of a room
type RoomStatus string

// all room statuses
const (
	RoomAvailable   RoomStatus = "AVAILABLE"
	RoomOccupied    RoomStatus = "OCCUPIED"
	RoomMaintenance RoomStatus = "MAINTENANCE"
)

// TenantStatus is the lease state of a tenant
type TenantStatus string

// all tenant statuses
const (
	TenantActive TenantStatus = "ACTIVE"
	TenantNotice TenantStatus = "NOTICE"
	TenantFormer TenantStatus = "FORMER"
)

// AccountStatus is the billing-account state of a tenant, independent of the
// lease status
type AccountStatus string

// all account statuses
const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// PaymentStatus is the payment state of a tenant
type PaymentStatus string

// all payment statuses
const (
	PaymentCurrent    PaymentStatus = "CURRENT"
	PaymentLate       PaymentStatus = "LATE"
	PaymentDelinquent PaymentStatus = "DELINQUENT"
)

// LeadStatus is a lead's position in the sales workflow
type LeadStatus string

// all lead statuses, roughly in workflow order
const (
	LeadExploring LeadStatus = "EXPLORING"
	LeadTouring   LeadStatus = "TOURING"
	LeadApplied   LeadStatus = "APPLIED"
	LeadApproved  LeadStatus = "APPROVED"
	LeadConverted LeadStatus = "CONVERTED"
	LeadLost      LeadStatus = "LOST"
)

// OperatorType is the kind of work an operator does
type OperatorType string

// all operator types
const (
	OperatorLeasingAgent    OperatorType = "LEASING_AGENT"
	OperatorPropertyManager OperatorType = "PROPERTY_MANAGER"
	OperatorMaintenance     OperatorType = "MAINTENANCE"
	OperatorAdmin           OperatorType = "ADMIN"
)

// closed value sets; unknown values are rejected at write time instead of
// being trusted into the database
var (
	roomStatuses     = map[RoomStatus]bool{RoomAvailable: true, RoomOccupied: true, RoomMaintenance: true}
	tenantStatuses   = map[TenantStatus]bool{TenantActive: true, TenantNotice: true, TenantFormer: true}
	accountStatuses  = map[AccountStatus]bool{AccountActive: true, AccountSuspended: true, AccountClosed: true}
	paymentStatuses  = map[PaymentStatus]bool{PaymentCurrent: true, PaymentLate: true, PaymentDelinquent: true}
	leadStatuses     = map[LeadStatus]bool{LeadExploring: true, LeadTouring: true, LeadApplied: true, LeadApproved: true, LeadConverted: true, LeadLost: true}
	operatorTypes    = map[OperatorType]bool{OperatorLeasingAgent: true, OperatorPropertyManager: true, OperatorMaintenance: true, OperatorAdmin: true}
)

func invalidValue(property, value string) *faults.Fault {
	return faults.New(faults.Validation, "invalid value '"+value+"' for "+property)
}

// Building is a managed property with rooms
type Building struct {
	BuildingID     string    `json:"building_id"`
	BuildingName   string    `json:"building_name"`
	FullAddress    string    `json:"full_address"`
	OperatorID     *int      `json:"operator_id,omitempty"`
	Street         string    `json:"street"`
	Area           string    `json:"area"`
	City           string    `json:"city"`
	State          string    `json:"state"`
	Zip            string    `json:"zip"`
	Floors         int       `json:"floors"`
	TotalRooms     int       `json:"total_rooms"`
	TotalBathrooms int       `json:"total_bathrooms"`
	WifiIncluded   bool      `json:"wifi_included"`
	LaundryOnsite  bool      `json:"laundry_onsite"`
	CreatedAt      time.Time `json:"created_at"`
	LastModified   time.Time `json:"last_modified"`
}

// BuildingInsert is the payload for creating a building. An empty BuildingID
// gets a generated identifier.
type BuildingInsert struct {
	BuildingID     string `json:"building_id,omitempty"`
	BuildingName   string `json:"building_name"`
	FullAddress    string `json:"full_address,omitempty"`
	OperatorID     *int   `json:"operator_id,omitempty"`
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
}

// BuildingPatch is a partial update; nil fields are left unchanged
type BuildingPatch struct {
	BuildingName   *string `json:"building_name,omitempty"`
	FullAddress    *string `json:"full_address,omitempty"`
	OperatorID     *int    `json:"operator_id,omitempty"`
	Street         *string `json:"street,omitempty"`
	Area           *string `json:"area,omitempty"`
	City           *string `json:"city,omitempty"`
	State          *string `json:"state,omitempty"`
	Zip            *string `json:"zip,omitempty"`
	Floors         *int    `json:"floors,omitempty"`
	TotalRooms     *int    `json:"total_rooms,omitempty"`
	TotalBathrooms *int    `json:"total_bathrooms,omitempty"`
	WifiIncluded   *bool   `json:"wifi_included,omitempty"`
	LaundryOnsite  *bool   `json:"laundry_onsite,omitempty"`
}

// Room is a rentable unit within a building
type Room struct {
	RoomID              string     `json:"room_id"`
	RoomNumber          string     `json:"room_number"`
	BuildingID          string     `json:"building_id"`
	FloorNumber         int        `json:"floor_number"`
	MaximumPeopleInRoom int        `json:"maximum_people_in_room"`
	PrivateRoomRent     float64    `json:"private_room_rent"`
	BathroomType        string     `json:"bathroom_type"`
	BedSize             string     `json:"bed_size"`
	BedType             string     `json:"bed_type"`
	View                string     `json:"view"`
	SqFootage           int        `json:"sq_footage"`
	Status              RoomStatus `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	LastModified        time.Time  `json:"last_modified"`
}

// RoomInsert is the payload for creating a room
type RoomInsert struct {
	RoomID              string     `json:"room_id,omitempty"`
	RoomNumber          string     `json:"room_number"`
	BuildingID          string     `json:"building_id"`
	FloorNumber         int        `json:"floor_number,omitempty"`
	MaximumPeopleInRoom int        `json:"maximum_people_in_room,omitempty"`
	PrivateRoomRent     float64    `json:"private_room_rent,omitempty"`
	BathroomType        string     `json:"bathroom_type,omitempty"`
	BedSize             string     `json:"bed_size,omitempty"`
	BedType             string     `json:"bed_type,omitempty"`
	View                string     `json:"view,omitempty"`
	SqFootage           int        `json:"sq_footage,omitempty"`
	Status              RoomStatus `json:"status,omitempty"`
}

// RoomPatch is a partial update; nil fields are left unchanged
type RoomPatch struct {
	RoomNumber          *string     `json:"room_number,omitempty"`
	FloorNumber         *int        `json:"floor_number,omitempty"`
	MaximumPeopleInRoom *int        `json:"maximum_people_in_room,omitempty"`
	PrivateRoomRent     *float64    `json:"private_room_rent,omitempty"`
	BathroomType        *string     `json:"bathroom_type,omitempty"`
	BedSize             *string     `json:"bed_size,omitempty"`
	BedType             *string     `json:"bed_type,omitempty"`
	View                *string     `json:"view,omitempty"`
	SqFootage           *int        `json:"sq_footage,omitempty"`
	Status              *RoomStatus `json:"status,omitempty"`
}

// Tenant is a person leasing a room
type Tenant struct {
	TenantID          string        `json:"tenant_id"`
	TenantName        string        `json:"tenant_name"`
	RoomID            *string       `json:"room_id,omitempty"`
	RoomNumber        string        `json:"room_number"`
	LeaseStartDate    *time.Time    `json:"lease_start_date,omitempty"`
	LeaseEndDate      *time.Time    `json:"lease_end_date,omitempty"`
	OperatorID        *int          `json:"operator_id,omitempty"`
	BookingType       string        `json:"booking_type"`
	TenantNationality string        `json:"tenant_nationality"`
	TenantEmail       string        `json:"tenant_email"`
	Phone             string        `json:"phone"`
	BuildingID        *string       `json:"building_id,omitempty"`
	Status            TenantStatus  `json:"status"`
	AccountStatus     AccountStatus `json:"account_status"`
	DepositAmount     float64       `json:"deposit_amount"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TenantInsert is the payload for creating a tenant
type TenantInsert struct {
	TenantID          string        `json:"tenant_id,omitempty"`
	TenantName        string        `json:"tenant_name"`
	RoomID            *string       `json:"room_id,omitempty"`
	RoomNumber        string        `json:"room_number,omitempty"`
	LeaseStartDate    *time.Time    `json:"lease_start_date,omitempty"`
	LeaseEndDate      *time.Time    `json:"lease_end_date,omitempty"`
	OperatorID        *int          `json:"operator_id,omitempty"`
	BookingType       string        `json:"booking_type,omitempty"`
	TenantNationality string        `json:"tenant_nationality,omitempty"`
	TenantEmail       string        `json:"tenant_email,omitempty"`
	Phone             string        `json:"phone,omitempty"`
	BuildingID        *string       `json:"building_id,omitempty"`
	Status            TenantStatus  `json:"status,omitempty"`
	AccountStatus     AccountStatus `json:"account_status,omitempty"`
	DepositAmount     float64       `json:"deposit_amount,omitempty"`
	PaymentStatus     PaymentStatus `json:"payment_status,omitempty"`
}

// TenantPatch is a partial update; nil fields are left unchanged
type TenantPatch struct {
	TenantName        *string        `json:"tenant_name,omitempty"`
	RoomID            *string        `json:"room_id,omitempty"`
	RoomNumber        *string        `json:"room_number,omitempty"`
	LeaseStartDate    *time.Time     `json:"lease_start_date,omitempty"`
	LeaseEndDate      *time.Time     `json:"lease_end_date,omitempty"`
	OperatorID        *int           `json:"operator_id,omitempty"`
	BookingType       *string        `json:"booking_type,omitempty"`
	TenantNationality *string        `json:"tenant_nationality,omitempty"`
	TenantEmail       *string        `json:"tenant_email,omitempty"`
	Phone             *string        `json:"phone,omitempty"`
	BuildingID        *string        `json:"building_id,omitempty"`
	Status            *TenantStatus  `json:"status,omitempty"`
	AccountStatus     *AccountStatus `json:"account_status,omitempty"`
	DepositAmount     *float64       `json:"deposit_amount,omitempty"`
	PaymentStatus     *PaymentStatus `json:"payment_status,omitempty"`
}

// Operator manages buildings and works leads. The identifier is numeric and
// assigned by the database.
type Operator struct {
	OperatorID   int          `json:"operator_id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	Role         string       `json:"role"`
	Active       bool         `json:"active"`
	DateJoined   *time.Time   `json:"date_joined,omitempty"`
	LastActive   *time.Time   `json:"last_active,omitempty"`
	OperatorType OperatorType `json:"operator_type"`
}

// OperatorInsert is the payload for creating an operator
type OperatorInsert struct {
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone,omitempty"`
	Role         string       `json:"role,omitempty"`
	Active       *bool        `json:"active,omitempty"`
	DateJoined   *time.Time   `json:"date_joined,omitempty"`
	OperatorType OperatorType `json:"operator_type,omitempty"`
}

// OperatorPatch is a partial update; nil fields are left unchanged
type OperatorPatch struct {
	Name         *string       `json:"name,omitempty"`
	Email        *string       `json:"email,omitempty"`
	Phone        *string       `json:"phone,omitempty"`
	Role         *string       `json:"role,omitempty"`
	Active       *bool         `json:"active,omitempty"`
	OperatorType *OperatorType `json:"operator_type,omitempty"`
}

// Lead is a prospective tenant moving through the sales workflow
type Lead struct {
	LeadID             string          `json:"lead_id"`
	Email              string          `json:"email"`
	Status             LeadStatus      `json:"status"`
	InteractionCount   int             `json:"interaction_count"`
	RoomsInterested    json.RawMessage `json:"rooms_interested,omitempty"`
	SelectedRoomID     *string         `json:"selected_room_id,omitempty"`
	ShowingDates       json.RawMessage `json:"showing_dates,omitempty"`
	PlannedMoveIn      string          `json:"planned_move_in"`
	PlannedMoveOut     string          `json:"planned_move_out"`
	VisaStatus         string          `json:"visa_status"`
	AssignedOperatorID *int            `json:"assigned_operator_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// LeadInsert is the payload for creating a lead
type LeadInsert struct {
	LeadID             string          `json:"lead_id,omitempty"`
	Email              string          `json:"email"`
	Status             LeadStatus      `json:"status,omitempty"`
	InteractionCount   int             `json:"interaction_count,omitempty"`
	RoomsInterested    json.RawMessage `json:"rooms_interested,omitempty"`
	SelectedRoomID     *string         `json:"selected_room_id,omitempty"`
	ShowingDates       json.RawMessage `json:"showing_dates,omitempty"`
	PlannedMoveIn      string          `json:"planned_move_in,omitempty"`
	PlannedMoveOut     string          `json:"planned_move_out,omitempty"`
	VisaStatus         string          `json:"visa_status,omitempty"`
	AssignedOperatorID *int            `json:"assigned_operator_id,omitempty"`
}

// LeadPatch is a partial update; nil fields are left unchanged
type LeadPatch struct {
	Email              *string         `json:"email,omitempty"`
	Status             *LeadStatus     `json:"status,omitempty"`
	InteractionCount   *int            `json:"interaction_count,omitempty"`
	RoomsInterested    json.RawMessage `json:"rooms_interested,omitempty"`
	SelectedRoomID     *string         `json:"selected_room_id,omitempty"`
	ShowingDates       json.RawMessage `json:"showing_dates,omitempty"`
	PlannedMoveIn      *string         `json:"planned_move_in,omitempty"`
	PlannedMoveOut     *string         `json:"planned_move_out,omitempty"`
	VisaStatus         *string         `json:"visa_status,omitempty"`
	AssignedOperatorID *int            `json:"assigned_operator_id,omitempty"`
}

// column whitelists for filters, search fields and sort keys
var (
	buildingColumns = columnSet("building_id", "building_name", "full_address", "operator_id",
		"street", "area", "city", "state", "zip", "floors", "total_rooms", "total_bathrooms",
		"wifi_included", "laundry_onsite", "created_at", "last_modified")
	roomColumns = columnSet("room_id", "room_number", "building_id", "floor_number",
		"maximum_people_in_room", "private_room_rent", "bathroom_type", "bed_size", "bed_type",
		"view", "sq_footage", "status", "created_at", "last_modified")
	tenantColumns = columnSet("tenant_id", "tenant_name", "room_id", "room_number",
		"lease_start_date", "lease_end_date", "operator_id", "booking_type", "tenant_nationality",
		"tenant_email", "phone", "building_id", "status", "account_status", "deposit_amount",
		"payment_status", "created_at", "updated_at")
	operatorColumns = columnSet("operator_id", "name", "email", "phone", "role", "active",
		"date_joined", "last_active", "operator_type")
	leadColumns = columnSet("lead_id", "email", "status", "interaction_count",
		"selected_room_id", "planned_move_in", "planned_move_out", "visa_status",
		"assigned_operator_id", "created_at", "updated_at")
)

func columnSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// newEntityID generates a readable identifier like "BLD-1b9d6bcd"
func newEntityID(prefix string) string {
	return prefix + "-" + strings.Split(uuid.New().String(), "-")[0]
}
