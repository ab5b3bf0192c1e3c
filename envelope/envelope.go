// Package envelope defines the unit of data carried over a pub/sub channel:
// a named event with a unique identifier, a creation timestamp and a free-form
// property bag.
//
// Envelopes are encoded as a JSON object with exactly four keys, always in
// the same order:
//
//	{"name":"demo:event","uuid":"...","properties":{"id":123},"timestamp":1700000000}
//
// The format is plain JSON so that publishers and subscribers written in
// other languages can interoperate.
package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

var (
	// ErrInvalidArgument is returned when an envelope cannot be constructed
	// from the given input.
	ErrInvalidArgument = errors.New("envelope: invalid argument")

	// ErrEncoding is returned when a property value has no JSON representation.
	ErrEncoding = errors.New("envelope: encoding error")

	// ErrDecoding is returned for malformed or incomplete input.
	ErrDecoding = errors.New("envelope: decoding error")
)

// Envelope is a named event. Its name, UUID and timestamp are fixed at
// construction; only the properties may change afterwards.
type Envelope struct {
	name      string
	uuid      string
	timestamp int64
	props     *Properties
}

// New creates an envelope for the event name with a fresh UUID and the
// current time. props may be nil.
func New(name string, props map[string]any) (*Envelope, error) {
	return NewWithProperties(name, PropertiesFromMap(props))
}

// NewWithProperties is like New but keeps the key order of props.
// props is copied.
func NewWithProperties(name string, props *Properties) (*Envelope, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}
	if props == nil {
		props = NewProperties()
	}
	return &Envelope{
		name:      name,
		uuid:      uuid.NewString(),
		timestamp: time.Now().Unix(),
		props:     props.Clone(),
	}, nil
}

// Name returns the event name.
func (e *Envelope) Name() string { return e.name }

// UUID returns the envelope identifier.
func (e *Envelope) UUID() string { return e.uuid }

// Timestamp returns the creation time in seconds since the Unix epoch.
func (e *Envelope) Timestamp() int64 { return e.timestamp }

// Time returns the creation time in UTC.
func (e *Envelope) Time() time.Time { return time.Unix(e.timestamp, 0).UTC() }

// Format formats the creation time with a Go time layout.
func (e *Envelope) Format(layout string) string { return e.Time().Format(layout) }

// Strftime formats the creation time with a C strftime pattern,
// e.g. "%Y-%m-%d %H:%M:%S".
func (e *Envelope) Strftime(pattern string) string {
	return strftime.Format(pattern, e.Time())
}

// Get returns the property stored under key, or nil.
func (e *Envelope) Get(key string) any { return e.props.Get(key) }

// Lookup returns the property stored under key and whether it exists.
func (e *Envelope) Lookup(key string) (any, bool) { return e.props.Lookup(key) }

// Set stores a property. Values are not validated until the envelope is
// encoded.
func (e *Envelope) Set(key string, value any) { e.props.Set(key, value) }

// Properties returns a copy of the property bag.
func (e *Envelope) Properties() *Properties { return e.props.Clone() }

// ToMap returns the envelope as plain Go values keyed like the wire format.
func (e *Envelope) ToMap() map[string]any {
	return map[string]any{
		"name":       e.name,
		"uuid":       e.uuid,
		"properties": e.props.Map(),
		"timestamp":  e.timestamp,
	}
}

// Equal reports whether both envelopes carry the same name, UUID, timestamp
// and properties.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.name == o.name &&
		e.uuid == o.uuid &&
		e.timestamp == o.timestamp &&
		e.props.Equal(o.props)
}

// String returns the encoded envelope, or an empty string if it cannot be
// encoded.
func (e *Envelope) String() string {
	b, err := e.Marshal()
	if err != nil {
		return ""
	}
	return string(b)
}
