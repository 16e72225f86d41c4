// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/roomops/roomops/api"
	"github.com/roomops/roomops/core/access"
	"github.com/roomops/roomops/core/csql"
	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/forms"
	"github.com/roomops/roomops/places"
	"github.com/roomops/roomops/realtime"
	"github.com/roomops/roomops/store"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	JWTSecret        string `env:"JWT_SECRET,optional" description:"HMAC secret for bearer tokens"`
	APIKey           string `env:"API_KEY,optional" description:"static api key for machine access"`
	PlacesAPIKey     string `env:"PLACES_API_KEY,optional" description:"upstream key for the places proxy"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma-separated kafka brokers for event export"`
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC,default=roomops.events" description:"topic for change events"`
	KafkaFaultsTopic string `env:"KAFKA_FAULTS_TOPIC,default=roomops.faults" description:"topic for reportable faults"`
	Verbose          bool   `env:"VERBOSE,default=false" description:"enable debug logging"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	level := logrus.InfoLevel
	if service.Verbose {
		level = logrus.DebugLevel
	}
	logger.Init(level)
	rlog := logger.Default()

	// the database is optional: with a missing or placeholder connection
	// string the store runs disabled and every operation fails fast
	var db *csql.DB
	if service.Postgres != "" && !csql.IsPlaceholder(service.Postgres) {
		db = csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "roomops")
		defer db.Close()
	} else {
		rlog.Warningln("no usable POSTGRES configuration, storage runs disabled")
	}

	var reporter faults.Reporter
	var notifiers realtime.MultiNotifier
	hub := realtime.NewHub()
	notifiers = append(notifiers, hub)
	if service.KafkaBrokers != "" {
		brokers := strings.Split(service.KafkaBrokers, ",")
		reporter = faults.NewKafkaReporter(brokers, service.KafkaFaultsTopic)
		exporter := realtime.NewKafkaExporter(brokers, service.KafkaEventsTopic)
		defer exporter.Close()
		notifiers = append(notifiers, exporter)
	}

	s := store.New(&store.Builder{
		DB:           db,
		Classifier:   faults.NewClassifier(reporter),
		Notifier:     notifiers,
		UpdateSchema: true,
	})

	validator, err := forms.NewValidator()
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	if service.JWTSecret != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{Secret: service.JWTSecret}))
	}
	if service.APIKey != "" {
		router.Use(access.NewAPIKeyMiddleware(&access.APIKeyMiddlewareBuilder{
			Key:   service.APIKey,
			Roles: []string{"admin"},
		}))
	}

	api.New(&api.Builder{
		Store:                s,
		Forms:                validator,
		Router:               router,
		AuthorizationEnabled: service.JWTSecret != "" || service.APIKey != "",
	})
	hub.HandleRoutes(router)
	places.New(&places.Builder{APIKey: service.PlacesAPIKey}).HandleRoutes(router)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Roomops-Api-Key"}),
	)

	log.Println("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, cors(router)); err != nil {
		log.Fatal(err)
	}
}
