package store_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/roomops/roomops/core/csql"
	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/store"
)

// TestService holds the configuration for the storage tests
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
}

type eventRecorder struct {
	mutex  sync.Mutex
	events []store.Event
}

func (r *eventRecorder) Notify(event store.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) countFor(table string, eventType store.EventType) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	count := 0
	for _, event := range r.events {
		if event.Table == table && event.EventType == eventType {
			count++
		}
	}
	return count
}

var (
	testStore    *store.Store
	testRecorder = &eventRecorder{}
)

func TestMain(m *testing.M) {
	var service TestService
	envdecode.Decode(&service) // all fields are optional

	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "_roomops_unit_test_")
		defer db.Close()
		db.ClearSchema()
		testStore = store.New(&store.Builder{
			DB:           db,
			Notifier:     testRecorder,
			UpdateSchema: true,
		})
	}
	os.Exit(m.Run())
}

func needDB(t *testing.T) *store.Store {
	t.Helper()
	if testStore == nil {
		t.Skip("POSTGRES is not set")
	}
	return testStore
}

func TestDisabledStoreFailsFast(t *testing.T) {
	s := store.New(&store.Builder{})
	if !s.Disabled() {
		t.Fatal("a store without database must be disabled")
	}
	ctx := context.Background()

	response := s.Buildings.Create(ctx, store.BuildingInsert{BuildingName: "x"})
	if response.Success {
		t.Fatal("expected failure in disabled mode")
	}
	if response.Error.Category != faults.ClientError {
		t.Fatalf("expected CLIENT_ERROR, got %s", response.Error.Category)
	}
	if !strings.Contains(response.Error.Message, "POSTGRES") {
		t.Fatalf("the error must tell the operator what to configure: %s", response.Error.Message)
	}
	if list := s.Rooms.List(ctx, store.ListOptions{}); list.Success || len(list.Data) != 0 {
		t.Fatal("disabled list must fail with an empty data slice")
	}
}

func TestBuildingCRUD(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	created := s.Buildings.Create(ctx, store.BuildingInsert{
		BuildingName: "Sunset Commons",
		Street:       "123 Sunset Blvd",
		Area:         "Silver Lake",
		City:         "Los Angeles",
		State:        "CA",
		Zip:          "90026",
		Floors:       4,
	})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	building := created.Data
	if !strings.HasPrefix(building.BuildingID, "BLD-") {
		t.Fatalf("expected a generated BLD id, got %q", building.BuildingID)
	}
	if building.FullAddress != "123 Sunset Blvd, Silver Lake, Los Angeles, CA, 90026" {
		t.Fatalf("unexpected assembled address: %q", building.FullAddress)
	}
	if !building.WifiIncluded || !building.LaundryOnsite {
		t.Fatal("wifi and laundry must default to true")
	}

	// the first read comes from the database, the second from the cache
	read := s.Buildings.GetByID(ctx, building.BuildingID)
	if !read.Success || read.Message == "from cache" {
		t.Fatalf("first read must not be cached: %+v", read)
	}
	read = s.Buildings.GetByID(ctx, building.BuildingID)
	if !read.Success || read.Message != "from cache" {
		t.Fatalf("second read must be cached: %+v", read)
	}

	name := "Sunset Commons East"
	updated := s.Buildings.Update(ctx, building.BuildingID, store.BuildingPatch{BuildingName: &name})
	if !updated.Success {
		t.Fatalf("update failed: %v", updated.Error)
	}
	if updated.Data.BuildingName != name {
		t.Fatalf("expected updated name, got %q", updated.Data.BuildingName)
	}
	if !updated.Data.LastModified.After(building.LastModified) {
		t.Fatal("update must stamp last_modified")
	}

	// the mutation must invalidate the cached read
	read = s.Buildings.GetByID(ctx, building.BuildingID)
	if read.Message == "from cache" {
		t.Fatal("update must invalidate the cached record")
	}
	if read.Data.BuildingName != name {
		t.Fatalf("expected the updated name after invalidation, got %q", read.Data.BuildingName)
	}

	deleted := s.Buildings.Delete(ctx, building.BuildingID)
	if !deleted.Success {
		t.Fatalf("delete failed: %v", deleted.Error)
	}
	read = s.Buildings.GetByID(ctx, building.BuildingID)
	if read.Success || read.Error.Category != faults.NotFound {
		t.Fatalf("expected NOT_FOUND after delete, got %+v", read)
	}
}

func TestBuildingDuplicateIDConflict(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	insert := store.BuildingInsert{BuildingID: "BLD-fixed", BuildingName: "First"}
	if response := s.Buildings.Create(ctx, insert); !response.Success {
		t.Fatalf("create failed: %v", response.Error)
	}
	defer s.Buildings.Delete(ctx, "BLD-fixed")

	insert.BuildingName = "Second"
	response := s.Buildings.Create(ctx, insert)
	if response.Success {
		t.Fatal("duplicate id must be rejected")
	}
	if response.Error.Category != faults.Conflict {
		t.Fatalf("expected CONFLICT, got %s", response.Error.Category)
	}
}

func TestBuildingValidation(t *testing.T) {
	s := needDB(t)
	response := s.Buildings.Create(context.Background(), store.BuildingInsert{})
	if response.Success || response.Error.Category != faults.Validation {
		t.Fatalf("expected VALIDATION for missing name, got %+v", response)
	}
}

func TestBuildingListFiltersAndSearch(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	for _, insert := range []store.BuildingInsert{
		{BuildingName: "Echo Park Lofts", City: "Los Angeles"},
		{BuildingName: "Mission Dolores Flats", City: "San Francisco"},
		{BuildingName: "Los Feliz Court", City: "Los Angeles"},
	} {
		response := s.Buildings.Create(ctx, insert)
		if !response.Success {
			t.Fatalf("create failed: %v", response.Error)
		}
		defer s.Buildings.Delete(ctx, response.Data.BuildingID)
	}

	list := s.Buildings.List(ctx, store.ListOptions{
		Filters: map[string]string{"city": "Los Angeles"},
		SortBy:  "building_name",
	})
	if !list.Success {
		t.Fatalf("list failed: %v", list.Error)
	}
	if list.Count != 2 || len(list.Data) != 2 {
		t.Fatalf("expected 2 Los Angeles buildings, got count %d len %d", list.Count, len(list.Data))
	}
	if list.Data[0].BuildingName != "Echo Park Lofts" {
		t.Fatalf("expected sort by name, got %q first", list.Data[0].BuildingName)
	}

	list = s.Buildings.List(ctx, store.ListOptions{
		Search:       "lofts",
		SearchFields: []string{"building_name"},
	})
	if list.Count != 1 || list.Data[0].BuildingName != "Echo Park Lofts" {
		t.Fatalf("case-insensitive search failed: %+v", list)
	}

	// pagination: one record per page
	list = s.Buildings.List(ctx, store.ListOptions{Page: 2, Limit: 1, SortBy: "building_name"})
	if len(list.Data) != 1 || list.Count < 3 {
		t.Fatalf("expected one record on page 2 with full count, got %+v", list)
	}

	list = s.Buildings.List(ctx, store.ListOptions{Filters: map[string]string{"nonsense": "x"}})
	if list.Success || list.Error.Category != faults.Validation {
		t.Fatalf("unknown filter property must be rejected, got %+v", list)
	}
}

func TestListCaching(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()
	options := store.ListOptions{Filters: map[string]string{"city": "Cache Town"}}

	first := s.Buildings.List(ctx, options)
	if !first.Success {
		t.Fatalf("list failed: %v", first.Error)
	}
	second := s.Buildings.List(ctx, options)
	if second.Message != "from cache" {
		t.Fatal("an identical list query must be served from cache")
	}

	created := s.Buildings.Create(ctx, store.BuildingInsert{BuildingName: "Cache Tower", City: "Cache Town"})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	defer s.Buildings.Delete(ctx, created.Data.BuildingID)

	third := s.Buildings.List(ctx, options)
	if third.Message == "from cache" {
		t.Fatal("a mutation must invalidate cached list queries")
	}
	if third.Count != first.Count+1 {
		t.Fatalf("expected the new record to appear, got %d after %d", third.Count, first.Count)
	}
}

func TestRoomStatusAndQueries(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	building := s.Buildings.Create(ctx, store.BuildingInsert{BuildingName: "Room Test Building"})
	if !building.Success {
		t.Fatalf("create failed: %v", building.Error)
	}
	defer s.Buildings.Delete(ctx, building.Data.BuildingID)
	buildingID := building.Data.BuildingID

	response := s.Rooms.Create(ctx, store.RoomInsert{
		RoomNumber: "101", BuildingID: buildingID, Status: "SOMETIMES_FREE",
	})
	if response.Success || response.Error.Category != faults.Validation {
		t.Fatalf("unknown status must be rejected at write time, got %+v", response)
	}

	cheap := s.Rooms.Create(ctx, store.RoomInsert{
		RoomNumber: "101", BuildingID: buildingID, PrivateRoomRent: 800,
	})
	if !cheap.Success {
		t.Fatalf("create failed: %v", cheap.Error)
	}
	defer s.Rooms.Delete(ctx, cheap.Data.RoomID)
	if cheap.Data.Status != store.RoomAvailable {
		t.Fatalf("status must default to AVAILABLE, got %s", cheap.Data.Status)
	}
	if cheap.Data.MaximumPeopleInRoom != 1 {
		t.Fatalf("capacity must default to 1, got %d", cheap.Data.MaximumPeopleInRoom)
	}

	expensive := s.Rooms.Create(ctx, store.RoomInsert{
		RoomNumber: "102", BuildingID: buildingID, PrivateRoomRent: 2500, Status: store.RoomOccupied,
	})
	if !expensive.Success {
		t.Fatalf("create failed: %v", expensive.Error)
	}
	defer s.Rooms.Delete(ctx, expensive.Data.RoomID)

	byBuilding := s.Rooms.ListByBuilding(ctx, buildingID)
	if byBuilding.Count != 2 {
		t.Fatalf("expected 2 rooms in the building, got %d", byBuilding.Count)
	}

	// only available rooms within the range qualify
	inRange := s.Rooms.ListByPriceRange(ctx, 500, 3000)
	found := false
	for _, room := range inRange.Data {
		if room.RoomID == expensive.Data.RoomID {
			t.Fatal("occupied rooms must not appear in the price range query")
		}
		if room.RoomID == cheap.Data.RoomID {
			found = true
		}
	}
	if !found {
		t.Fatal("the available room in range must be returned")
	}

	invalid := s.Rooms.ListByPriceRange(ctx, 3000, 500)
	if invalid.Success || invalid.Error.Category != faults.Validation {
		t.Fatalf("max below min must be rejected, got %+v", invalid)
	}

	availability := s.Buildings.ListWithAvailableRooms(ctx)
	if !availability.Success {
		t.Fatalf("availability query failed: %v", availability.Error)
	}
	found = false
	for _, entry := range availability.Data {
		if entry.BuildingID == buildingID {
			found = true
			if entry.AvailableRooms != 1 {
				t.Fatalf("expected 1 available room, got %d", entry.AvailableRooms)
			}
		}
	}
	if !found {
		t.Fatal("the building with an available room must be listed")
	}
}

func TestTenantLeaseInvariantAndEmailConflict(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	response := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Backwards Lease", LeaseStartDate: &end, LeaseEndDate: &start,
	})
	if response.Success || response.Error.Category != faults.Validation {
		t.Fatalf("lease_end before lease_start must be rejected, got %+v", response)
	}

	created := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName:     "Ada Lovelace",
		TenantEmail:    "ada@example.org",
		LeaseStartDate: &start,
		LeaseEndDate:   &end,
	})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	defer s.Tenants.Delete(ctx, created.Data.TenantID)
	if created.Data.Status != store.TenantActive ||
		created.Data.AccountStatus != store.AccountActive ||
		created.Data.PaymentStatus != store.PaymentCurrent {
		t.Fatalf("statuses must default to active/active/current, got %+v", created.Data)
	}

	duplicate := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Ada Again", TenantEmail: "ada@example.org",
	})
	if duplicate.Success {
		t.Fatal("duplicate email must be rejected")
	}
	if duplicate.Error.Category != faults.Conflict {
		t.Fatalf("expected CONFLICT from the unique index, got %s", duplicate.Error.Category)
	}

	invalid := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Wrong Status", Status: "ANGRY",
	})
	if invalid.Success || invalid.Error.Category != faults.Validation {
		t.Fatalf("unknown tenant status must be rejected, got %+v", invalid)
	}
}

func TestUpcomingLeaseExpiration(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	soon := time.Now().UTC().AddDate(0, 0, 10)
	later := time.Now().UTC().AddDate(0, 0, 200)
	start := time.Now().UTC().AddDate(-1, 0, 0)

	expiring := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Expiring Soon", TenantEmail: "soon@example.org",
		LeaseStartDate: &start, LeaseEndDate: &soon,
	})
	if !expiring.Success {
		t.Fatalf("create failed: %v", expiring.Error)
	}
	defer s.Tenants.Delete(ctx, expiring.Data.TenantID)

	longTerm := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Long Term", TenantEmail: "longterm@example.org",
		LeaseStartDate: &start, LeaseEndDate: &later,
	})
	if !longTerm.Success {
		t.Fatalf("create failed: %v", longTerm.Error)
	}
	defer s.Tenants.Delete(ctx, longTerm.Data.TenantID)

	list := s.Tenants.ListWithUpcomingLeaseExpiration(ctx, 30)
	if !list.Success {
		t.Fatalf("query failed: %v", list.Error)
	}
	foundSoon, foundLater := false, false
	for _, tenant := range list.Data {
		if tenant.TenantID == expiring.Data.TenantID {
			foundSoon = true
		}
		if tenant.TenantID == longTerm.Data.TenantID {
			foundLater = true
		}
	}
	if !foundSoon {
		t.Fatal("the lease expiring within the horizon must be listed")
	}
	if foundLater {
		t.Fatal("a lease beyond the horizon must not be listed")
	}
}

func TestOperatorCRUD(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	response := s.Operators.Create(ctx, store.OperatorInsert{Name: "No Email"})
	if response.Success || response.Error.Category != faults.Validation {
		t.Fatalf("missing email must be rejected, got %+v", response)
	}

	response = s.Operators.Create(ctx, store.OperatorInsert{
		Name: "Grace Hopper", Email: "grace@example.org", OperatorType: "WIZARD",
	})
	if response.Success || response.Error.Category != faults.Validation {
		t.Fatalf("unknown operator type must be rejected, got %+v", response)
	}

	created := s.Operators.Create(ctx, store.OperatorInsert{
		Name: "Grace Hopper", Email: "grace@example.org",
	})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	defer s.Operators.Delete(ctx, created.Data.OperatorID)
	if created.Data.OperatorID == 0 {
		t.Fatal("the database must assign a numeric id")
	}
	if created.Data.OperatorType != store.OperatorLeasingAgent {
		t.Fatalf("operator type must default to LEASING_AGENT, got %s", created.Data.OperatorType)
	}
	if !created.Data.Active {
		t.Fatal("operators must default to active")
	}

	duplicate := s.Operators.Create(ctx, store.OperatorInsert{
		Name: "Grace Clone", Email: "grace@example.org",
	})
	if duplicate.Success || duplicate.Error.Category != faults.Conflict {
		t.Fatalf("duplicate email must be a CONFLICT, got %+v", duplicate)
	}

	role := "head of leasing"
	updated := s.Operators.Update(ctx, created.Data.OperatorID, store.OperatorPatch{Role: &role})
	if !updated.Success || updated.Data.Role != role {
		t.Fatalf("update failed: %+v", updated)
	}
	if updated.Data.LastActive == nil {
		t.Fatal("update must stamp last_active")
	}
}

func TestLeadWorkflow(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	created := s.Leads.Create(ctx, store.LeadInsert{Email: "prospect@example.org"})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	lead := created.Data
	defer s.Leads.Delete(ctx, lead.LeadID)
	if lead.Status != store.LeadExploring {
		t.Fatalf("status must default to EXPLORING, got %s", lead.Status)
	}
	if !strings.HasPrefix(lead.LeadID, "LD-") {
		t.Fatalf("expected a generated LD id, got %q", lead.LeadID)
	}

	operator := s.Operators.Create(ctx, store.OperatorInsert{
		Name: "Lead Worker", Email: "leadworker@example.org",
	})
	if !operator.Success {
		t.Fatalf("create failed: %v", operator.Error)
	}
	defer s.Operators.Delete(ctx, operator.Data.OperatorID)

	assigned := s.Leads.AssignOperator(ctx, lead.LeadID, operator.Data.OperatorID)
	if !assigned.Success {
		t.Fatalf("assign failed: %v", assigned.Error)
	}
	if assigned.Data.AssignedOperatorID == nil || *assigned.Data.AssignedOperatorID != operator.Data.OperatorID {
		t.Fatalf("expected assigned operator, got %+v", assigned.Data)
	}
	if assigned.Data.InteractionCount != lead.InteractionCount+1 {
		t.Fatal("assignment must bump the interaction count")
	}

	status := store.LeadStatus("UNDECIDED")
	invalid := s.Leads.Update(ctx, lead.LeadID, store.LeadPatch{Status: &status})
	if invalid.Success || invalid.Error.Category != faults.Validation {
		t.Fatalf("unknown lead status must be rejected, got %+v", invalid)
	}
}

func TestLeadConversion(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	created := s.Leads.Create(ctx, store.LeadInsert{Email: "convert@example.org"})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	lead := created.Data
	defer s.Leads.Delete(ctx, lead.LeadID)

	converted := s.Leads.ConvertToTenant(ctx, lead.LeadID, store.TenantInsert{
		TenantName: "Converted Prospect",
	})
	if !converted.Success {
		t.Fatalf("conversion failed: %v", converted.Error)
	}
	defer s.Tenants.Delete(ctx, converted.Data.TenantID)
	if converted.Data.TenantEmail != "convert@example.org" {
		t.Fatalf("the tenant must inherit the lead's email, got %q", converted.Data.TenantEmail)
	}

	read := s.Leads.GetByID(ctx, lead.LeadID)
	if read.Data.Status != store.LeadConverted {
		t.Fatalf("the lead must be marked CONVERTED, got %s", read.Data.Status)
	}

	again := s.Leads.ConvertToTenant(ctx, lead.LeadID, store.TenantInsert{TenantName: "Twice"})
	if again.Success || again.Error.Category != faults.Conflict {
		t.Fatalf("converting a converted lead must be a CONFLICT, got %+v", again)
	}
}

func TestLeadConversionFailureLeavesStatusUnchanged(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	blocker := s.Tenants.Create(ctx, store.TenantInsert{
		TenantName: "Blocker", TenantEmail: "blocked@example.org",
	})
	if !blocker.Success {
		t.Fatalf("create failed: %v", blocker.Error)
	}
	defer s.Tenants.Delete(ctx, blocker.Data.TenantID)

	created := s.Leads.Create(ctx, store.LeadInsert{
		Email: "blocked@example.org", Status: store.LeadApproved,
	})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	defer s.Leads.Delete(ctx, created.Data.LeadID)

	converted := s.Leads.ConvertToTenant(ctx, created.Data.LeadID, store.TenantInsert{
		TenantName: "Doomed Conversion",
	})
	if converted.Success {
		t.Fatal("conversion with a duplicate email must fail")
	}
	if converted.Error.Category != faults.Conflict {
		t.Fatalf("expected CONFLICT, got %s", converted.Error.Category)
	}

	read := s.Leads.GetByID(ctx, created.Data.LeadID)
	if read.Data.Status != store.LeadApproved {
		t.Fatalf("a failed conversion must leave the status unchanged, got %s", read.Data.Status)
	}
}

func TestMutationsEmitEvents(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	inserts := testRecorder.countFor("buildings", store.EventInsert)
	deletes := testRecorder.countFor("buildings", store.EventDelete)

	created := s.Buildings.Create(ctx, store.BuildingInsert{BuildingName: "Event Test"})
	if !created.Success {
		t.Fatalf("create failed: %v", created.Error)
	}
	s.Buildings.Delete(ctx, created.Data.BuildingID)

	if testRecorder.countFor("buildings", store.EventInsert) != inserts+1 {
		t.Fatal("create must emit an INSERT event")
	}
	if testRecorder.countFor("buildings", store.EventDelete) != deletes+1 {
		t.Fatal("delete must emit a DELETE event")
	}
}
