// Package csql encapsulates access to the postgres database
package csql

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/roomops/roomops/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a roomops postgres database with a schema.
// The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database:", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ClearSchema clears all the data contained in the database's schema.
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}

type databasePinger interface {
	PingContext(ctx context.Context) error
}

// PingProbe reports database connectivity. The result is cached for the
// configured interval, so probing stays cheap on hot paths.
type PingProbe struct {
	db       databasePinger
	interval time.Duration

	mutex   sync.Mutex
	checked time.Time
	online  bool
}

// NewPingProbe creates a probe for the given database. A non-positive
// interval defaults to 15 seconds.
func NewPingProbe(db *DB, interval time.Duration) *PingProbe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PingProbe{db: db, interval: interval}
}

// Online pings the database, re-checking at most once per interval.
func (p *PingProbe) Online() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	firstCheck := p.checked.IsZero()
	if !firstCheck && time.Since(p.checked) < p.interval {
		return p.online
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wasOnline := p.online
	p.online = p.db.PingContext(ctx) == nil
	p.checked = time.Now()
	if !firstCheck && p.online != wasOnline {
		if p.online {
			logger.Default().Infoln("database connectivity restored")
		} else {
			logger.Default().Warningln("database unreachable, operations will be queued")
		}
	}
	return p.online
}

// IsPlaceholder reports whether a connection string or credential still carries
// an obvious template value. Deployments sometimes ship with the example
// configuration unchanged; in that case the store runs in disabled mode and
// fails fast instead of dialing out.
func IsPlaceholder(value string) bool {
	if len(strings.TrimSpace(value)) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, marker := range []string{"your-", "changeme", "change-me", "example.com", "<", "placeholder", "xxx"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
