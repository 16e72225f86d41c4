package store

import (
	"fmt"

	"github.com/roomops/roomops/core/logger"
)

// createTables creates the entity tables and their indices if they do not
// exist yet. References between tables are deliberately not enforced with
// foreign keys: deletes are hard deletes without cascade, orphaned references
// are accepted (and surfaced by the admin UI, not the storage layer).
func (s *Store) createTables() error {
	schema := s.db.Schema

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."operators" (
operator_id SERIAL PRIMARY KEY,
name varchar NOT NULL,
email varchar NOT NULL,
phone varchar NOT NULL DEFAULT '',
role varchar NOT NULL DEFAULT '',
active boolean NOT NULL DEFAULT true,
date_joined timestamp,
last_active timestamp,
operator_type varchar NOT NULL DEFAULT 'LEASING_AGENT'
);`, schema),
		fmt.Sprintf(`CREATE UNIQUE index IF NOT EXISTS external_index_operator_email ON %s."operators"(email);`, schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."buildings" (
building_id varchar PRIMARY KEY,
building_name varchar NOT NULL,
full_address varchar NOT NULL DEFAULT '',
operator_id integer,
street varchar NOT NULL DEFAULT '',
area varchar NOT NULL DEFAULT '',
city varchar NOT NULL DEFAULT '',
state varchar NOT NULL DEFAULT '',
zip varchar NOT NULL DEFAULT '',
floors integer NOT NULL DEFAULT 0,
total_rooms integer NOT NULL DEFAULT 0,
total_bathrooms integer NOT NULL DEFAULT 0,
wifi_included boolean NOT NULL DEFAULT true,
laundry_onsite boolean NOT NULL DEFAULT true,
created_at timestamp NOT NULL DEFAULT now(),
last_modified timestamp NOT NULL DEFAULT now()
);`, schema),
		fmt.Sprintf(`CREATE index IF NOT EXISTS searchable_property_building_city ON %s."buildings"(city);`, schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."rooms" (
room_id varchar PRIMARY KEY,
room_number varchar NOT NULL,
building_id varchar NOT NULL,
floor_number integer NOT NULL DEFAULT 0,
maximum_people_in_room integer NOT NULL DEFAULT 1,
private_room_rent double precision NOT NULL DEFAULT 0,
bathroom_type varchar NOT NULL DEFAULT '',
bed_size varchar NOT NULL DEFAULT '',
bed_type varchar NOT NULL DEFAULT '',
view varchar NOT NULL DEFAULT '',
sq_footage integer NOT NULL DEFAULT 0,
status varchar NOT NULL DEFAULT 'AVAILABLE',
created_at timestamp NOT NULL DEFAULT now(),
last_modified timestamp NOT NULL DEFAULT now()
);`, schema),
		fmt.Sprintf(`CREATE index IF NOT EXISTS sort_index_room_building_id ON %s."rooms"(building_id);`, schema),
		fmt.Sprintf(`CREATE index IF NOT EXISTS searchable_property_room_status ON %s."rooms"(status);`, schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."tenants" (
tenant_id varchar PRIMARY KEY,
tenant_name varchar NOT NULL,
room_id varchar,
room_number varchar NOT NULL DEFAULT '',
lease_start_date timestamp,
lease_end_date timestamp,
operator_id integer,
booking_type varchar NOT NULL DEFAULT '',
tenant_nationality varchar NOT NULL DEFAULT '',
tenant_email varchar NOT NULL DEFAULT '',
phone varchar NOT NULL DEFAULT '',
building_id varchar,
status varchar NOT NULL DEFAULT 'ACTIVE',
account_status varchar NOT NULL DEFAULT 'ACTIVE',
deposit_amount double precision NOT NULL DEFAULT 0,
payment_status varchar NOT NULL DEFAULT 'CURRENT',
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now()
);`, schema),
		fmt.Sprintf(`CREATE UNIQUE index IF NOT EXISTS external_index_tenant_email ON %s."tenants"(tenant_email) WHERE tenant_email <> '';`, schema),
		fmt.Sprintf(`CREATE index IF NOT EXISTS sort_index_tenant_lease_end ON %s."tenants"(lease_end_date);`, schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."leads" (
lead_id varchar PRIMARY KEY,
email varchar NOT NULL,
status varchar NOT NULL DEFAULT 'EXPLORING',
interaction_count integer NOT NULL DEFAULT 0,
rooms_interested json NOT NULL DEFAULT '[]'::json,
selected_room_id varchar,
showing_dates json NOT NULL DEFAULT '[]'::json,
planned_move_in varchar NOT NULL DEFAULT '',
planned_move_out varchar NOT NULL DEFAULT '',
visa_status varchar NOT NULL DEFAULT '',
assigned_operator_id integer,
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now()
);`, schema),
		fmt.Sprintf(`CREATE index IF NOT EXISTS searchable_property_lead_status ON %s."leads"(status);`, schema),
	}

	rlog := logger.Default()
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			rlog.WithError(err).Errorf("error while updating schema when running: %s", statement)
			return err
		}
	}
	return nil
}

// Tables lists the entity tables, in creation order.
func Tables() []string {
	return []string{"operators", "buildings", "rooms", "tenants", "leads"}
}
