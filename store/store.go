// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package store implements the property-management data-access layer.

Every entity (buildings, rooms, tenants, operators, leads) gets a service
exposing create/read/update/delete/list with filtering, search, sorting and
pagination. The services compose the TTL cache and the retry executor; all
failures come back classified inside a uniform response envelope, raw driver
errors never cross this boundary.
*/
package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/roomops/roomops/core/cache"
	"github.com/roomops/roomops/core/csql"
	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/core/retry"
)

// EventType is the kind of change an event describes
type EventType string

// all change event types
const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is the normalized change-event envelope emitted on every mutation.
type Event struct {
	EventType EventType   `json:"eventType"`
	Table     string      `json:"table"`
	Old       interface{} `json:"old,omitempty"`
	New       interface{} `json:"new,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier receives change events from the store. Implementations must not block.
type Notifier interface {
	Notify(event Event)
}

// Response is the uniform envelope returned by every entity operation.
type Response[T any] struct {
	Data    T             `json:"data"`
	Error   *faults.Fault `json:"error,omitempty"`
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
}

// ListResponse is the envelope for list operations; Count is the total number
// of matching records across all pages.
type ListResponse[T any] struct {
	Data    []T           `json:"data"`
	Count   int           `json:"count"`
	Error   *faults.Fault `json:"error,omitempty"`
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
}

func ok[T any](data T, message string) Response[T] {
	return Response[T]{Data: data, Success: true, Message: message}
}

func fail[T any](fault *faults.Fault) Response[T] {
	return Response[T]{Error: fault, Success: false, Message: fault.UserMessage}
}

func okList[T any](data []T, count int) ListResponse[T] {
	if data == nil {
		data = []T{}
	}
	return ListResponse[T]{Data: data, Count: count, Success: true}
}

func failList[T any](fault *faults.Fault) ListResponse[T] {
	return ListResponse[T]{Data: []T{}, Error: fault, Success: false, Message: fault.UserMessage}
}

// ListOptions selects, orders and paginates a list query. Filters are
// exact-match and combined with AND; Search is a case-insensitive substring
// match OR'd over SearchFields, combined with the filters via AND.
type ListOptions struct {
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
	SortBy       string            `json:"sort_by"`
	SortOrder    string            `json:"sort_order"`
	Filters      map[string]string `json:"filters"`
	Search       string            `json:"search"`
	SearchFields []string          `json:"search_fields"`
}

// signature serializes the options into a stable cache-key fragment. Every
// distinct filter/sort/page combination caches independently.
func (o ListOptions) signature() string {
	type canonical struct {
		Page         int        `json:"p"`
		Limit        int        `json:"l"`
		SortBy       string     `json:"s"`
		SortOrder    string     `json:"o"`
		Filters      [][]string `json:"f"`
		Search       string     `json:"q"`
		SearchFields []string   `json:"qf"`
	}
	keys := make([]string, 0, len(o.Filters))
	for key := range o.Filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	filters := make([][]string, 0, len(keys))
	for _, key := range keys {
		filters = append(filters, []string{key, o.Filters[key]})
	}
	j, _ := json.Marshal(canonical{
		Page: o.Page, Limit: o.Limit, SortBy: o.SortBy, SortOrder: o.SortOrder,
		Filters: filters, Search: o.Search, SearchFields: o.SearchFields,
	})
	return string(j)
}

// Builder assembles a Store.
type Builder struct {
	// DB is the postgres database. Leave nil to run the store in disabled
	// mode, where every operation fails fast with a descriptive error.
	DB *csql.DB
	// Cache overrides the default query cache. Optional.
	Cache *cache.Cache
	// Executor overrides the default retry executor. Optional.
	Executor *retry.Executor
	// Classifier records every failure. Optional.
	Classifier *faults.Classifier
	// Notifier receives change events for every mutation. Optional.
	Notifier Notifier
	// UpdateSchema creates the entity tables if they do not exist yet.
	UpdateSchema bool
}

// Store bundles the database, cache, retry executor and notifier shared by
// all entity services.
type Store struct {
	db         *csql.DB
	cache      *cache.Cache
	executor   *retry.Executor
	classifier *faults.Classifier
	notifier   Notifier

	// Buildings, Rooms, Tenants, Operators and Leads are the entity services
	Buildings *BuildingService
	Rooms     *RoomService
	Tenants   *TenantService
	Operators *OperatorService
	Leads     *LeadService
}

// New realizes the store. With a nil DB the store is disabled: all operations
// return a classified failure without attempting any network call.
func New(bb *Builder) *Store {
	s := &Store{
		db:         bb.DB,
		cache:      bb.Cache,
		executor:   bb.Executor,
		classifier: bb.Classifier,
		notifier:   bb.Notifier,
	}
	if s.cache == nil {
		s.cache = cache.New(cache.DefaultTTL, cache.DefaultMaxEntries)
	}
	if s.classifier == nil {
		s.classifier = faults.NewClassifier(nil)
	}
	if s.executor == nil {
		config := retry.Config{Classifier: s.classifier}
		if s.db != nil {
			// a lost database connection parks mutations in the offline
			// queue until /roomops/replay or the next Replay call
			config.Probe = csql.NewPingProbe(s.db, 15*time.Second)
			config.QueueOffline = true
		}
		s.executor = retry.New(config)
	}

	s.Buildings = &BuildingService{collection: s.newCollection("buildings", "building_id", "last_modified", buildingColumns)}
	s.Rooms = &RoomService{collection: s.newCollection("rooms", "room_id", "last_modified", roomColumns)}
	s.Tenants = &TenantService{collection: s.newCollection("tenants", "tenant_id", "updated_at", tenantColumns)}
	s.Operators = &OperatorService{collection: s.newCollection("operators", "operator_id", "last_active", operatorColumns)}
	s.Leads = &LeadService{collection: s.newCollection("leads", "lead_id", "updated_at", leadColumns)}

	if bb.UpdateSchema && s.db != nil {
		if err := s.createTables(); err != nil {
			panic(fmt.Errorf("cannot update schema: %w", err))
		}
	}
	return s
}

// Disabled reports whether the store runs without a database connection.
func (s *Store) Disabled() bool {
	return s.db == nil
}

// DB exposes the underlying database, used by the statistics route. It is nil
// while the store is disabled.
func (s *Store) DB() *csql.DB {
	return s.db
}

// Cache exposes the query cache, mainly for instrumentation.
func (s *Store) Cache() *cache.Cache {
	return s.cache
}

// Classifier exposes the fault classifier for the stats route.
func (s *Store) Classifier() *faults.Classifier {
	return s.classifier
}

// Executor exposes the retry executor, so that callers can replay the offline queue.
func (s *Store) Executor() *retry.Executor {
	return s.executor
}

func (s *Store) notify(event Event) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}

// collection is the per-table plumbing shared by all entity services: cache
// namespace, modified-column override and list query construction.
type collection struct {
	store *Store
	// table is the bare table name, also the cache invalidation namespace
	table string
	// idColumn is the primary identifier column
	idColumn string
	// modifiedColumn is stamped on every update. The table schemas are
	// historically inconsistent here, which is why each service carries its
	// own column name instead of a fixed convention.
	modifiedColumn string
	// columns whitelists everything that may appear in filters, search
	// fields and sort keys
	columns map[string]bool
}

func (s *Store) newCollection(table, idColumn, modifiedColumn string, columns map[string]bool) collection {
	return collection{
		store:          s,
		table:          table,
		idColumn:       idColumn,
		modifiedColumn: modifiedColumn,
		columns:        columns,
	}
}

func (c *collection) qualified() string {
	return c.store.db.Schema + `."` + c.table + `"`
}

// disabledFault is returned by every operation while the store has no database
func (c *collection) disabledFault() *faults.Fault {
	return faults.New(faults.ClientError,
		"storage is not configured: set POSTGRES to a valid connection string")
}

// invalidate clears the table's entire cache namespace. Coarse on purpose:
// any mutation invalidates all cached pages and queries for the table.
func (c *collection) invalidate() {
	c.store.cache.Invalidate(c.table + ":")
}

func (c *collection) cacheKey(operation string, signature string) string {
	return c.table + ":" + operation + ":" + signature
}

// execute routes an operation through the retry executor
func (c *collection) execute(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	ctx, _ = logger.ContextWithOperation(ctx, c.table+"."+operation)
	return c.store.executor.Execute(ctx, c.table+"."+operation, op)
}

// listClauses builds WHERE/ORDER BY/LIMIT clauses from the options. Filter
// keys, search fields and the sort key are checked against the column
// whitelist; unknown names are rejected before any SQL is sent.
func (c *collection) listClauses(o ListOptions) (string, []interface{}, error) {
	page := o.Page
	if page < 1 {
		page = 1
	}
	limit := o.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}

	var where []string
	var args []interface{}

	keys := make([]string, 0, len(o.Filters))
	for key := range o.Filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !c.columns[key] {
			return "", nil, faults.New(faults.Validation, fmt.Sprintf("unknown filter property '%s'", key))
		}
		args = append(args, o.Filters[key])
		where = append(where, fmt.Sprintf("%s = $%d", key, len(args)))
	}

	if o.Search != "" && len(o.SearchFields) > 0 {
		var matches []string
		for _, field := range o.SearchFields {
			if !c.columns[field] {
				return "", nil, faults.New(faults.Validation, fmt.Sprintf("unknown search property '%s'", field))
			}
			args = append(args, "%"+o.Search+"%")
			matches = append(matches, fmt.Sprintf("%s::text ILIKE $%d", field, len(args)))
		}
		where = append(where, "("+strings.Join(matches, " OR ")+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	sortBy := o.SortBy
	if sortBy == "" {
		sortBy = c.idColumn
	}
	if !c.columns[sortBy] {
		return "", nil, faults.New(faults.Validation, fmt.Sprintf("unknown sort property '%s'", sortBy))
	}
	order := "ASC"
	if strings.EqualFold(o.SortOrder, "desc") {
		order = "DESC"
	}
	clause += " ORDER BY " + sortBy + " " + order

	args = append(args, limit)
	clause += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, (page-1)*limit)
	clause += " OFFSET $" + strconv.Itoa(len(args))

	return clause, args, nil
}

func (c *collection) validation(message string) *faults.Fault {
	return faults.New(faults.Validation, message)
}

func (c *collection) conflict(message string) *faults.Fault {
	return faults.New(faults.Conflict, message)
}

// toFault normalizes any error into a classified fault. Errors coming out of
// the retry executor already are faults and pass through unchanged.
func toFault(err error) *faults.Fault {
	return faults.Classify(err)
}

// prefixColumns qualifies a comma-separated column list with a table alias
func prefixColumns(alias, fields string) string {
	parts := strings.Split(fields, ", ")
	for i, part := range parts {
		parts[i] = alias + "." + part
	}
	return strings.Join(parts, ", ")
}

// deleteByID issues a hard delete. Dependent records are not checked or
// removed; the caller accepts orphaned references.
func (c *collection) deleteByID(ctx context.Context, id interface{}) Response[bool] {
	if c.store.Disabled() {
		return fail[bool](c.disabledFault())
	}
	err := c.execute(ctx, "delete", func(ctx context.Context) error {
		result, err := c.store.db.ExecContext(ctx,
			`DELETE FROM `+c.qualified()+` WHERE `+c.idColumn+` = $1`, id)
		if err != nil {
			return err
		}
		count, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if count == 0 {
			return faults.New(faults.NotFound, c.table+" record not found")
		}
		return nil
	})
	if err != nil {
		return fail[bool](toFault(err))
	}
	c.invalidate()
	c.store.notify(Event{
		EventType: EventDelete,
		Table:     c.table,
		Old:       map[string]interface{}{c.idColumn: id},
		Timestamp: time.Now().UTC(),
	})
	response := ok(true, "deleted successfully")
	return response
}

// updateClause turns column/value pairs into a SET clause, stamping the
// modified column. The id is always $1.
func (c *collection) updateClause(sets []string, args []interface{}) (string, []interface{}) {
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("%s = $%d", c.modifiedColumn, len(args)+1))
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1`,
		c.qualified(), strings.Join(sets, ", "), c.idColumn)
	return query, args
}
