package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Marshal encodes the envelope into its canonical JSON form.
func (e *Envelope) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"name":`)
	if err := appendString(&buf, e.name); err != nil {
		return nil, fmt.Errorf("%w: name: %w", ErrEncoding, err)
	}
	buf.WriteString(`,"uuid":`)
	if err := appendString(&buf, e.uuid); err != nil {
		return nil, fmt.Errorf("%w: uuid: %w", ErrEncoding, err)
	}
	buf.WriteString(`,"properties":`)
	if err := appendProperties(&buf, e.props, ""); err != nil {
		return nil, err
	}
	buf.WriteString(`,"timestamp":`)
	buf.WriteString(strconv.FormatInt(e.timestamp, 10))
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return e.Marshal()
}

// UnmarshalJSON implements json.Unmarshaler. e is left untouched on error.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}

// Unmarshal decodes an envelope produced by Marshal, keeping its UUID and
// timestamp. All four keys must be present. Unknown keys are ignored.
func Unmarshal(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var (
		e                             Envelope
		hasName, hasUUID, hasTS, hasP bool
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, decodingErr(err)
		}
		key, _ := tok.(string)

		switch key {
		case "name":
			if err := dec.Decode(&e.name); err != nil {
				return nil, decodingErr(fmt.Errorf("name: %w", err))
			}
			hasName = true
		case "uuid":
			if err := dec.Decode(&e.uuid); err != nil {
				return nil, decodingErr(fmt.Errorf("uuid: %w", err))
			}
			hasUUID = true
		case "timestamp":
			tok, err := dec.Token()
			if err != nil {
				return nil, decodingErr(fmt.Errorf("timestamp: %w", err))
			}
			n, ok := tok.(json.Number)
			if !ok {
				return nil, decodingErr(fmt.Errorf("timestamp: expected a number, got %v", tok))
			}
			ts, err := n.Int64()
			if err != nil {
				return nil, decodingErr(fmt.Errorf("timestamp: %w", err))
			}
			e.timestamp = ts
			hasTS = true
		case "properties":
			props, err := decodeProperties(dec)
			if err != nil {
				return nil, decodingErr(fmt.Errorf("properties: %w", err))
			}
			e.props = props
			hasP = true
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, decodingErr(err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, decodingErr(errors.New("trailing data after envelope"))
	}

	switch {
	case !hasName, !hasUUID, !hasTS, !hasP:
		return nil, decodingErr(errors.New("name, uuid, properties and timestamp are required"))
	case e.name == "":
		return nil, decodingErr(errors.New("name is empty"))
	}
	if _, err := uuid.Parse(e.uuid); err != nil {
		return nil, decodingErr(fmt.Errorf("uuid: %w", err))
	}

	return &e, nil
}

func decodingErr(err error) error {
	return fmt.Errorf("%w: %w", ErrDecoding, err)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return decodingErr(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return decodingErr(fmt.Errorf("expected %q, got %v", want, tok))
	}
	return nil
}

// decodeProperties accepts an object, null, or an empty array. PHP's
// json_encode writes an empty associative array as [].
func decodeProperties(dec *json.Decoder) (*Properties, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case nil:
		return NewProperties(), nil
	case json.Delim('['):
		if dec.More() {
			return nil, errors.New("expected an object")
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return NewProperties(), nil
	case json.Delim('{'):
		return decodeObject(dec)
	}
	return nil, fmt.Errorf("expected an object, got %v", tok)
}

// decodeObject reads the members of an object whose '{' was consumed.
func decodeObject(dec *json.Decoder) (*Properties, error) {
	p := NewProperties()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		v, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		p.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected %v", t)
	case json.Number:
		return parseNumber(t)
	}
	return tok, nil
}

// parseNumber maps integers to int64 (uint64 when too large) and everything
// else to float64.
func parseNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}

var errInvalidUTF8 = errors.New("invalid UTF-8")

func appendString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return errInvalidUTF8
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode adds a newline
	return nil
}

func appendProperties(buf *bytes.Buffer, p *Properties, path string) error {
	buf.WriteByte('{')
	i := 0
	for k, v := range p.All() {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		if err := appendString(buf, k); err != nil {
			return fmt.Errorf("%w: key %q: %w", ErrEncoding, joinPath(path, k), err)
		}
		buf.WriteByte(':')
		if err := appendValue(buf, v, joinPath(path, k)); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func appendValue(buf *bytes.Buffer, v any, path string) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: property %q is %v", ErrEncoding, path, x)
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case string:
		if err := appendString(buf, x); err != nil {
			return fmt.Errorf("%w: property %q: %w", ErrEncoding, path, err)
		}
	case *Properties:
		return appendProperties(buf, x, path)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: property %q has unsupported type %T", ErrEncoding, path, v)
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
