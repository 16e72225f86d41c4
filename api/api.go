// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package api exposes the admin REST interface.

Every entity gets the usual collection routes plus a handful of extension
queries; form intake routes validate and transform submissions before they hit
storage; the monitoring routes expose fault statistics, cache counters and the
offline queue.
*/
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/access"
	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/forms"
	"github.com/roomops/roomops/store"
)

// Builder assembles the API
type Builder struct {
	// Store is the entity storage. Required.
	Store *store.Store
	// Forms validates intake submissions. Required.
	Forms *forms.Validator
	// Router is the mux router all routes are added to. Required.
	Router *mux.Router
	// AuthorizationEnabled enforces roles on all routes. Tests switch this off.
	AuthorizationEnabled bool
}

// API is the realized admin REST interface
type API struct {
	store                *store.Store
	forms                *forms.Validator
	authorizationEnabled bool
}

// roles that may mutate entities
var writerRoles = []string{"admin", "operator"}

// New realizes the API and registers all routes with the router.
func New(bb *Builder) *API {
	if bb.Store == nil {
		panic("builder needs store")
	}
	if bb.Forms == nil {
		panic("builder needs form validator")
	}
	if bb.Router == nil {
		panic("builder needs router")
	}
	a := &API{
		store:                bb.Store,
		forms:                bb.Forms,
		authorizationEnabled: bb.AuthorizationEnabled,
	}
	logger.AddRequestID(bb.Router)
	a.handleEntityRoutes(bb.Router)
	a.handleFormRoutes(bb.Router)
	a.handleStatistics(bb.Router)
	a.handleMonitoring(bb.Router)
	return a
}

// authorized checks that the request carries any role at all
func (a *API) authorized(w http.ResponseWriter, r *http.Request) bool {
	if !a.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil || len(auth.Roles) == 0 {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// authorizedWriter checks that the request may mutate entities
func (a *API) authorizedWriter(w http.ResponseWriter, r *http.Request) bool {
	if !a.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	for _, role := range writerRoles {
		if auth.HasRole(role) {
			return true
		}
	}
	http.Error(w, "not authorized", http.StatusUnauthorized)
	return false
}

// authorizedAdmin checks for the admin role
func (a *API) authorizedAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !a.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.HasRole("admin") && !auth.HasRole("admin viewer") {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// statusForFault maps a fault category to an HTTP status code
func statusForFault(fault *faults.Fault) int {
	switch fault.Category {
	case faults.Validation:
		return http.StatusUnprocessableEntity
	case faults.Conflict:
		return http.StatusConflict
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Authentication:
		return http.StatusUnauthorized
	case faults.Authorization:
		return http.StatusForbidden
	case faults.RateLimit:
		return http.StatusTooManyRequests
	case faults.ClientError:
		return http.StatusBadRequest
	case faults.Network:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	body, _ := json.Marshal(value)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// writeResponse writes the envelope with a status derived from the outcome
func writeResponse[T any](w http.ResponseWriter, response store.Response[T], successStatus int) {
	if !response.Success && response.Error != nil {
		writeJSON(w, statusForFault(response.Error), response)
		return
	}
	writeJSON(w, successStatus, response)
}

func writeListResponse[T any](w http.ResponseWriter, response store.ListResponse[T]) {
	if !response.Success && response.Error != nil {
		writeJSON(w, statusForFault(response.Error), response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// listOptionsFromQuery parses page, limit, sort, order, filter, search and
// searchFields query parameters. The filter parameter can be repeated and has
// the form filter=column=value.
func listOptionsFromQuery(r *http.Request) (store.ListOptions, error) {
	query := r.URL.Query()
	options := store.ListOptions{
		SortBy:    query.Get("sort"),
		SortOrder: query.Get("order"),
		Search:    query.Get("search"),
	}
	if page := query.Get("page"); page != "" {
		number, err := strconv.Atoi(page)
		if err != nil {
			return options, faults.New(faults.Validation, "parameter page must be a number")
		}
		options.Page = number
	}
	if limit := query.Get("limit"); limit != "" {
		number, err := strconv.Atoi(limit)
		if err != nil {
			return options, faults.New(faults.Validation, "parameter limit must be a number")
		}
		options.Limit = number
	}
	for _, filter := range query["filter"] {
		column, value, found := strings.Cut(filter, "=")
		if !found {
			return options, faults.New(faults.Validation, "parameter filter must have the form column=value")
		}
		if options.Filters == nil {
			options.Filters = map[string]string{}
		}
		options.Filters[column] = value
	}
	if fields := query.Get("searchFields"); fields != "" {
		options.SearchFields = strings.Split(fields, ",")
	}
	return options, nil
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fault := faults.New(faults.Validation, "invalid json body: "+err.Error())
		writeJSON(w, http.StatusBadRequest, store.Response[T]{Error: fault, Message: fault.UserMessage})
		return body, false
	}
	return body, true
}

func compressed(handler func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return handlers.CompressHandler(http.HandlerFunc(handler))
}
