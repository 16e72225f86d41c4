// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/store"
)

// entityRoutes bundles the handlers for one entity's collection routes. The
// id always travels as string; entities with numeric identifiers convert
// inside their closures.
type entityRoutes[T, I, P any] struct {
	plural string
	list   func(ctx context.Context, options store.ListOptions) store.ListResponse[T]
	get    func(ctx context.Context, id string) store.Response[T]
	create func(ctx context.Context, insert I) store.Response[T]
	update func(ctx context.Context, id string, patch P) store.Response[T]
	delete func(ctx context.Context, id string) store.Response[bool]
}

func addEntityRoutes[T, I, P any](a *API, router *mux.Router, e entityRoutes[T, I, P]) {
	collection := "/" + e.plural
	item := collection + "/{id}"
	logger.Default().Debugf("  handle entity routes: %s GET POST, %s GET PUT DELETE", collection, item)

	router.Handle(collection, compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		options, err := listOptionsFromQuery(r)
		if err != nil {
			writeListResponse(w, store.ListResponse[T]{Error: faults.Classify(err), Message: err.Error()})
			return
		}
		writeListResponse(w, e.list(r.Context(), options))
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle(collection, compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		insert, ok := decodeBody[I](w, r)
		if !ok {
			return
		}
		writeResponse(w, e.create(r.Context(), insert), http.StatusCreated)
	})).Methods(http.MethodPost)

	router.Handle(item, compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		writeResponse(w, e.get(r.Context(), mux.Vars(r)["id"]), http.StatusOK)
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle(item, compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		patch, ok := decodeBody[P](w, r)
		if !ok {
			return
		}
		writeResponse(w, e.update(r.Context(), mux.Vars(r)["id"], patch), http.StatusOK)
	})).Methods(http.MethodPut)

	router.Handle(item, compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		writeResponse(w, e.delete(r.Context(), mux.Vars(r)["id"]), http.StatusOK)
	})).Methods(http.MethodDelete)
}

func invalidID[T any](id string) store.Response[T] {
	fault := faults.New(faults.Validation, "invalid numeric id '"+id+"'")
	return store.Response[T]{Error: fault, Message: fault.UserMessage}
}

func (a *API) handleEntityRoutes(router *mux.Router) {
	s := a.store

	// extension queries must be registered before the generic {id} routes
	router.Handle("/buildings/availability", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		writeListResponse(w, s.Buildings.ListWithAvailableRooms(r.Context()))
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/buildings/{id}/rooms", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		writeListResponse(w, s.Rooms.ListByBuilding(r.Context(), mux.Vars(r)["id"]))
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/rooms/price-range", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		query := r.URL.Query()
		min, errMin := strconv.ParseFloat(query.Get("min"), 64)
		max, errMax := strconv.ParseFloat(query.Get("max"), 64)
		if errMin != nil || errMax != nil {
			fault := faults.New(faults.Validation, "parameters min and max must be numbers")
			writeListResponse(w, store.ListResponse[store.Room]{Error: fault, Message: fault.UserMessage})
			return
		}
		writeListResponse(w, s.Rooms.ListByPriceRange(r.Context(), min, max))
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/tenants/expiring", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(w, r) {
			return
		}
		withinDays, _ := strconv.Atoi(r.URL.Query().Get("within_days"))
		writeListResponse(w, s.Tenants.ListWithUpcomingLeaseExpiration(r.Context(), withinDays))
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/leads/{id}/assign-operator", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		body, ok := decodeBody[struct {
			OperatorID int `json:"operator_id"`
		}](w, r)
		if !ok {
			return
		}
		writeResponse(w, s.Leads.AssignOperator(r.Context(), mux.Vars(r)["id"], body.OperatorID), http.StatusOK)
	})).Methods(http.MethodPost)

	router.Handle("/leads/{id}/convert", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		insert, ok := decodeBody[store.TenantInsert](w, r)
		if !ok {
			return
		}
		writeResponse(w, s.Leads.ConvertToTenant(r.Context(), mux.Vars(r)["id"], insert), http.StatusCreated)
	})).Methods(http.MethodPost)

	addEntityRoutes(a, router, entityRoutes[store.Building, store.BuildingInsert, store.BuildingPatch]{
		plural: "buildings",
		list:   s.Buildings.List,
		get:    s.Buildings.GetByID,
		create: s.Buildings.Create,
		update: s.Buildings.Update,
		delete: s.Buildings.Delete,
	})
	addEntityRoutes(a, router, entityRoutes[store.Room, store.RoomInsert, store.RoomPatch]{
		plural: "rooms",
		list:   s.Rooms.List,
		get:    s.Rooms.GetByID,
		create: s.Rooms.Create,
		update: s.Rooms.Update,
		delete: s.Rooms.Delete,
	})
	addEntityRoutes(a, router, entityRoutes[store.Tenant, store.TenantInsert, store.TenantPatch]{
		plural: "tenants",
		list:   s.Tenants.List,
		get:    s.Tenants.GetByID,
		create: s.Tenants.Create,
		update: s.Tenants.Update,
		delete: s.Tenants.Delete,
	})
	addEntityRoutes(a, router, entityRoutes[store.Operator, store.OperatorInsert, store.OperatorPatch]{
		plural: "operators",
		list:   s.Operators.List,
		get: func(ctx context.Context, id string) store.Response[store.Operator] {
			number, err := strconv.Atoi(id)
			if err != nil {
				return invalidID[store.Operator](id)
			}
			return s.Operators.GetByID(ctx, number)
		},
		create: s.Operators.Create,
		update: func(ctx context.Context, id string, patch store.OperatorPatch) store.Response[store.Operator] {
			number, err := strconv.Atoi(id)
			if err != nil {
				return invalidID[store.Operator](id)
			}
			return s.Operators.Update(ctx, number, patch)
		},
		delete: func(ctx context.Context, id string) store.Response[bool] {
			number, err := strconv.Atoi(id)
			if err != nil {
				return invalidID[bool](id)
			}
			return s.Operators.Delete(ctx, number)
		},
	})
	addEntityRoutes(a, router, entityRoutes[store.Lead, store.LeadInsert, store.LeadPatch]{
		plural: "leads",
		list:   s.Leads.List,
		get:    s.Leads.GetByID,
		create: s.Leads.Create,
		update: s.Leads.Update,
		delete: s.Leads.Delete,
	})
}

func (a *API) handleFormRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle form routes: /forms/... POST")

	router.Handle("/forms/buildings", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		submission, ok := decodeBody[json.RawMessage](w, r)
		if !ok {
			return
		}
		insert, result := a.forms.TransformBuilding(submission)
		if !result.IsValid {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		writeResponse(w, a.store.Buildings.Create(r.Context(), insert), http.StatusCreated)
	})).Methods(http.MethodPost)

	router.Handle("/forms/tenants", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		submission, ok := decodeBody[json.RawMessage](w, r)
		if !ok {
			return
		}
		insert, result := a.forms.TransformTenant(submission)
		if !result.IsValid {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		writeResponse(w, a.store.Tenants.Create(r.Context(), insert), http.StatusCreated)
	})).Methods(http.MethodPost)

	router.Handle("/forms/leads", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedWriter(w, r) {
			return
		}
		submission, ok := decodeBody[json.RawMessage](w, r)
		if !ok {
			return
		}
		insert, result := a.forms.TransformLead(submission)
		if !result.IsValid {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		writeResponse(w, a.store.Leads.Create(r.Context(), insert), http.StatusCreated)
	})).Methods(http.MethodPost)
}
