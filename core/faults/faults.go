/*
Package faults turns raw backend errors into a small, fixed taxonomy.

Every error that crosses the store boundary is classified exactly once into a
category, a static severity, a user-facing message and a retryability flag.
Raw driver or transport errors never reach API consumers.
*/
package faults

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Category is the classification of a backend failure.
type Category string

// all supported failure categories
const (
	Network        Category = "NETWORK"
	Authentication Category = "AUTHENTICATION"
	Authorization  Category = "AUTHORIZATION"
	Validation     Category = "VALIDATION"
	Conflict       Category = "CONFLICT"
	NotFound       Category = "NOT_FOUND"
	RateLimit      Category = "RATE_LIMIT"
	ServerError    Category = "SERVER_ERROR"
	ClientError    Category = "CLIENT_ERROR"
	Unknown        Category = "UNKNOWN"
)

// Severity rates how bad a failure is for the overall service.
type Severity string

// all supported severities
const (
	Low      Severity = "LOW"
	Medium   Severity = "MEDIUM"
	High     Severity = "HIGH"
	Critical Severity = "CRITICAL"
)

// severity is a static mapping, it does not depend on the concrete error
var severityByCategory = map[Category]Severity{
	Network:        Medium,
	Authentication: High,
	Authorization:  High,
	Validation:     Low,
	Conflict:       Medium,
	NotFound:       Low,
	RateLimit:      Medium,
	ServerError:    Critical,
	ClientError:    Medium,
	Unknown:        Medium,
}

var userMessageByCategory = map[Category]string{
	Network:        "A network problem occurred. Please check your connection and try again.",
	Authentication: "Your session has expired. Please sign in again.",
	Authorization:  "You do not have permission to perform this action.",
	Validation:     "Some of the provided data is invalid. Please review and correct it.",
	Conflict:       "This record conflicts with an existing one.",
	NotFound:       "The requested record could not be found.",
	RateLimit:      "Too many requests. Please wait a moment and try again.",
	ServerError:    "The server encountered a problem. Please try again later.",
	ClientError:    "The request could not be processed.",
	Unknown:        "An unexpected error occurred. Please try again.",
}

var hintsByCategory = map[Category][]string{
	Network:        {"check your internet connection", "retry the operation"},
	Authentication: {"sign in again"},
	Authorization:  {"contact an administrator for access"},
	Validation:     {"review the highlighted fields", "correct the data and resubmit"},
	Conflict:       {"reload the record and retry", "use a different identifier"},
	NotFound:       {"verify the identifier", "refresh the list"},
	RateLimit:      {"wait a moment before retrying"},
	ServerError:    {"retry later", "contact support if the problem persists"},
	ClientError:    {"retry the operation", "contact support if the problem persists"},
	Unknown:        {"retry the operation", "contact support if the problem persists"},
}

// Fault is a classified backend error.
type Fault struct {
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
	Retryable   bool      `json:"retryable"`
	Reportable  bool      `json:"reportable"`
	Operation   string    `json:"operation,omitempty"`
	Time        time.Time `json:"time"`

	err error
}

// Error implements the error interface. It returns the technical message,
// never the user message.
func (f *Fault) Error() string {
	if f.Operation != "" {
		return f.Operation + ": " + f.Message
	}
	return f.Message
}

// Unwrap returns the original error
func (f *Fault) Unwrap() error {
	return f.err
}

// Hints returns the static list of suggested recovery actions for the fault's category.
func (f *Fault) Hints() []string {
	return hintsByCategory[f.Category]
}

// StatusError carries an HTTP status from a transport boundary into classification.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// AsFault returns err as *Fault if it already is one
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// New creates a fault of the given category with a technical message. Severity,
// user message, retryability and reportability all follow from the category.
func New(category Category, message string) *Fault {
	severity := severityByCategory[category]
	return &Fault{
		Category:    category,
		Severity:    severity,
		Message:     message,
		UserMessage: userMessageByCategory[category],
		Retryable:   category == Network || category == RateLimit || category == ServerError,
		Reportable:  severity == High || severity == Critical,
		Time:        time.Now().UTC(),
	}
}

// Classify turns an arbitrary error into a fault. It never fails; anything it
// cannot make sense of becomes UNKNOWN with MEDIUM severity. Errors that are
// already faults are returned unchanged.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := AsFault(err); ok {
		return f
	}

	f := New(categorize(err), err.Error())
	f.err = err
	return f
}

func categorize(err error) Category {
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return categorizePostgres(pqErr)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return categorizeStatus(statusErr.Status)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Network
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network
	}

	message := strings.ToLower(err.Error())
	for _, marker := range []string{"fetch", "network", "connection refused", "connection reset", "no such host", "broken pipe", "i/o timeout"} {
		if strings.Contains(message, marker) {
			return Network
		}
	}
	return Unknown
}

// categorizePostgres maps SQLSTATE codes to the taxonomy. The code classes are
// documented in https://www.postgresql.org/docs/current/errcodes-appendix.html
func categorizePostgres(pqErr *pq.Error) Category {
	code := string(pqErr.Code)
	switch {
	case code == "23505": // unique_violation
		return Conflict
	case strings.HasPrefix(code, "23"): // other integrity constraint violations
		return Validation
	case strings.HasPrefix(code, "22"): // data exceptions
		return Validation
	case strings.HasPrefix(code, "28"): // invalid authorization specification
		return Authentication
	case code == "42501": // insufficient_privilege
		return Authorization
	case strings.HasPrefix(code, "53"), // insufficient resources
		code == "57014", // query_canceled
		strings.HasPrefix(code, "58"), // system errors
		strings.HasPrefix(code, "XX"): // internal errors
		return ServerError
	case strings.HasPrefix(code, "08"): // connection exceptions
		return Network
	case strings.HasPrefix(code, "42"): // syntax or access rule violations
		return ClientError
	}
	return Unknown
}

func categorizeStatus(status int) Category {
	switch status {
	case 401:
		return Authentication
	case 403:
		return Authorization
	case 404:
		return NotFound
	case 409:
		return Conflict
	case 422, 400:
		return Validation
	case 429:
		return RateLimit
	}
	switch {
	case status >= 500:
		return ServerError
	case status >= 400:
		return ClientError
	}
	return Unknown
}

// Reporter forwards reportable faults to an external monitoring sink.
type Reporter interface {
	Report(ctx context.Context, fault *Fault) error
}

// logCapacity is the size of the bounded fault log, oldest entries are evicted first
const logCapacity = 100

// Classifier classifies errors and keeps a bounded circular log of everything
// it has seen, for later inspection via Stats().
type Classifier struct {
	mutex    sync.Mutex
	log      []*Fault
	next     int
	total    int
	reporter Reporter
}

// NewClassifier creates a classifier. The reporter is optional and may be nil.
func NewClassifier(reporter Reporter) *Classifier {
	return &Classifier{
		log:      make([]*Fault, 0, logCapacity),
		reporter: reporter,
	}
}

// Process classifies err, tags it with the operation label, appends it to the
// bounded log and forwards it to the reporter if it is reportable. It returns
// the classified fault. Process never returns an error of its own.
func (c *Classifier) Process(ctx context.Context, operation string, err error) *Fault {
	fault := Classify(err)
	if fault == nil {
		return nil
	}
	if fault.Operation == "" {
		fault.Operation = operation
	}

	c.mutex.Lock()
	if len(c.log) < logCapacity {
		c.log = append(c.log, fault)
	} else {
		c.log[c.next] = fault
		c.next = (c.next + 1) % logCapacity
	}
	c.total++
	reporter := c.reporter
	c.mutex.Unlock()

	if fault.Reportable && reporter != nil {
		// the sink must not fail the caller's operation
		_ = reporter.Report(ctx, fault)
	}
	return fault
}

// Stats describes the classifier's bounded log.
type Stats struct {
	Total      int              `json:"total"`
	Logged     int              `json:"logged"`
	ByCategory map[Category]int `json:"by_category"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// Stats aggregates the current content of the bounded log. Total counts all
// faults ever processed, Logged only those still retained.
func (c *Classifier) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := Stats{
		Total:      c.total,
		Logged:     len(c.log),
		ByCategory: map[Category]int{},
		BySeverity: map[Severity]int{},
	}
	for _, fault := range c.log {
		stats.ByCategory[fault.Category]++
		stats.BySeverity[fault.Severity]++
	}
	return stats
}

// Recent returns the retained faults, oldest first.
func (c *Classifier) Recent() []*Fault {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	recent := make([]*Fault, 0, len(c.log))
	if len(c.log) < logCapacity {
		recent = append(recent, c.log...)
		return recent
	}
	recent = append(recent, c.log[c.next:]...)
	recent = append(recent, c.log[:c.next]...)
	return recent
}
