// File: api/events.go
// Package api defines the observability event contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Severity of an observability event, ordered from least to most severe.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	case SeverityAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Category groups events for filtering and rate limiting.
type Category string

const (
	CategoryAccept  Category = "accept"
	CategoryClose   Category = "close"
	CategoryAccess  Category = "access"
	CategoryPublish Category = "publish"
	CategoryRuntime Category = "runtime"
)

// Event is one structured observability record.
type Event struct {
	Fields   map[string]any
	Name     string
	Category Category
	Severity Severity
}

// Observer receives observability events. Implementations must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }
