package cfgx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType    = reflect.TypeFor[time.Duration]()
	stringSliceType = reflect.TypeFor[[]string]()
)

// setValue parses raw into the field according to its type.
func setValue(field ConfigField, raw string) error {
	v := field.Value

	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("cannot parse duration %s: %w", field.Path, err)
		}
		v.SetInt(int64(d))
		return nil
	}
	if v.Type() == stringSliceType {
		v.Set(reflect.ValueOf(splitList(raw)))
		return nil
	}

	switch field.Kind {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("cannot set %s: unimplemented type %s", field.Path, v.Type())
	}
	return nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(raw string) []string {
	var items []string
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// fieldValue exposes a ConfigField as a flag.Value. The field is only written
// when the flag is present on the command line.
type fieldValue struct {
	field ConfigField
}

func (f fieldValue) String() string {
	if !f.field.Value.IsValid() {
		return ""
	}
	if f.field.Value.Type() == stringSliceType {
		return strings.Join(f.field.Value.Interface().([]string), ",")
	}
	return fmt.Sprint(f.field.Value.Interface())
}

func (f fieldValue) Set(raw string) error {
	return setValue(f.field, raw)
}

// IsBoolFlag lets bool fields be passed as a bare -flag.
func (f fieldValue) IsBoolFlag() bool {
	return f.field.Kind == reflect.Bool
}
