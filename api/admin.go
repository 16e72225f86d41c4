// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/store"
)

// resourceStatistics represents information about one entity table
type resourceStatistics struct {
	Resource     string  `json:"resource"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
}

type statisticsDetails struct {
	Tables []resourceStatistics `json:"tables"`
}

func (a *API) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("  handle statistics route: /roomops/statistics GET")
	router.Handle("/roomops/statistics", compressed(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.statisticsWithAuth(w, r)
	})).Methods(http.MethodOptions, http.MethodGet)
}

func (a *API) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	if !a.authorizedAdmin(w, r) {
		return
	}
	if a.store.Disabled() {
		http.Error(w, "storage is not configured", http.StatusServiceUnavailable)
		return
	}
	db := a.store.DB()
	s := statisticsDetails{Tables: []resourceStatistics{}}
	for _, table := range store.Tables() {
		row := db.QueryRow(fmt.Sprintf(`SELECT pg_total_relation_size('%s."%s"'), count(*) FROM %s."%s"`,
			db.Schema, table, db.Schema, table))
		var size, count int64
		if err := row.Scan(&size, &count); err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot read table statistics")
			http.Error(w, "cannot read table statistics", http.StatusInternalServerError)
			return
		}
		var averageSize float64
		if count != 0 {
			averageSize = float64(size / count)
		}
		s.Tables = append(s.Tables, resourceStatistics{
			Resource:     table,
			Count:        count,
			SizeMB:       float64(size) / 1024. / 1024.,
			AverageSizeB: averageSize,
		})
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleMonitoring(router *mux.Router) {
	logger.Default().Debugln("  handle monitoring routes: /roomops/faults /roomops/cache GET, /roomops/replay POST")

	router.Handle("/roomops/faults", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedAdmin(w, r) {
			return
		}
		classifier := a.store.Classifier()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stats":  classifier.Stats(),
			"recent": classifier.Recent(),
		})
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/roomops/cache", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedAdmin(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, a.store.Cache().Stats())
	})).Methods(http.MethodOptions, http.MethodGet)

	router.Handle("/roomops/replay", compressed(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedAdmin(w, r) {
			return
		}
		replayed := a.store.Executor().Replay(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"replayed": replayed,
			"queued":   a.store.Executor().QueueLength(),
		})
	})).Methods(http.MethodPost)

	router.HandleFunc("/roomops/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":           "ok",
			"storage_disabled": a.store.Disabled(),
		})
	}).Methods(http.MethodOptions, http.MethodGet)
}
