package envelope_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/erlorenz/go-eventbus/envelope"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	before := time.Now().Unix()
	e, err := envelope.New("demo:event:1", map[string]any{"id": 123})
	require.NoError(t, err)

	assert.Equal(t, "demo:event:1", e.Name())
	_, err = uuid.Parse(e.UUID())
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, e.Timestamp(), before)
	assert.LessOrEqual(t, e.Timestamp(), time.Now().Unix())
	assert.Equal(t, int64(123), e.Get("id"))
	assert.Nil(t, e.Get("missing"))

	_, ok := e.Lookup("missing")
	assert.False(t, ok)
}

func TestNew_EmptyName(t *testing.T) {
	e, err := envelope.New("", nil)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, envelope.ErrInvalidArgument)
}

func TestNew_UniqueUUIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		e, err := envelope.New("demo:event", nil)
		require.NoError(t, err)
		require.False(t, seen[e.UUID()], "duplicate uuid %s", e.UUID())
		seen[e.UUID()] = true
	}
}

func TestSet_DoesNotTouchIdentity(t *testing.T) {
	e, err := envelope.New("demo:event", nil)
	require.NoError(t, err)
	id, ts := e.UUID(), e.Timestamp()

	e.Set("id", 1)
	e.Set("name", "overwritten?")
	e.Set("uuid", "nope")
	e.Set("timestamp", 0)

	assert.Equal(t, id, e.UUID())
	assert.Equal(t, ts, e.Timestamp())
	assert.Equal(t, "demo:event", e.Name())
	assert.Equal(t, "overwritten?", e.Get("name"))
}

func TestProperties_CopiedAtConstruction(t *testing.T) {
	props := envelope.NewProperties()
	props.Set("id", 1)

	e, err := envelope.NewWithProperties("demo:event", props)
	require.NoError(t, err)

	props.Set("id", 2)
	assert.Equal(t, int64(1), e.Get("id"))

	clone := e.Properties()
	clone.Set("id", 3)
	assert.Equal(t, int64(1), e.Get("id"))
}

func TestMarshal_CanonicalForm(t *testing.T) {
	props := envelope.NewProperties()
	props.Set("id", 123)
	props.Set("ratio", 2.0)
	props.Set("tag", "<a&b>")
	props.Set("ok", true)
	props.Set("none", nil)

	e, err := envelope.NewWithProperties("demo:event", props)
	require.NoError(t, err)

	b, err := e.Marshal()
	require.NoError(t, err)

	want := `{"name":"demo:event","uuid":"` + e.UUID() +
		`","properties":{"id":123,"ratio":2.0,"tag":"<a&b>","ok":true,"none":null},"timestamp":` +
		jsonInt(e.Timestamp()) + `}`
	assert.Equal(t, want, string(b))
	assert.Equal(t, want, e.String())

	again, err := e.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, again, "encoding must be reproducible")
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{"Empty", nil},
		{"Scalar", map[string]any{"id": 123}},
		{"Mixed", map[string]any{
			"int":    -7,
			"float":  1.5,
			"whole":  3.0,
			"big":    uint64(math.MaxUint64),
			"string": "héllo \"world\"",
			"bool":   false,
			"null":   nil,
		}},
		{"Nested", map[string]any{
			"user": map[string]any{"id": 1, "roles": []any{"admin", "dev"}},
			"list": []any{1, 2.5, map[string]any{"deep": true}, []any{}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := envelope.New("demo:event", tt.props)
			require.NoError(t, err)

			b, err := e.Marshal()
			require.NoError(t, err)

			got, err := envelope.Unmarshal(b)
			require.NoError(t, err)

			assert.True(t, e.Equal(got), "want %s, got %s", e, got)
			assert.Equal(t, e.Name(), got.Name())
			assert.Equal(t, e.UUID(), got.UUID())
			assert.Equal(t, e.Timestamp(), got.Timestamp())
			assert.Equal(t, e.ToMap(), got.ToMap())
		})
	}
}

func TestRoundTrip_KeepsPropertyOrder(t *testing.T) {
	props := envelope.NewProperties()
	for _, k := range []string{"zeta", "alpha", "mid"} {
		props.Set(k, k)
	}
	e, err := envelope.NewWithProperties("demo:event", props)
	require.NoError(t, err)

	b, err := e.Marshal()
	require.NoError(t, err)
	got, err := envelope.Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, got.Properties().Keys())
}

func TestMarshal_Unrepresentable(t *testing.T) {
	tests := map[string]any{
		"Channel": make(chan int),
		"Func":    func() {},
		"NaN":     math.NaN(),
		"Inf":     math.Inf(1),
		"Struct":  struct{ A int }{1},
		"Nested":  map[string]any{"bad": complex(1, 2)},
		"BadUTF8": "a\xffb",
		"BadKey":  map[string]any{"k\xfe": 1},
	}

	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := envelope.New("demo:event", nil)
			require.NoError(t, err)
			e.Set("value", v)

			_, err = e.Marshal()
			assert.ErrorIs(t, err, envelope.ErrEncoding)
			assert.Empty(t, e.String())
		})
	}
}

func TestMarshal_InvalidUTF8Name(t *testing.T) {
	e, err := envelope.New("demo:\xffevent", nil)
	require.NoError(t, err)

	_, err = e.Marshal()
	require.ErrorIs(t, err, envelope.ErrEncoding)
	assert.Contains(t, err.Error(), "invalid UTF-8")
}

func TestUnmarshal_Malformed(t *testing.T) {
	valid := `"uuid":"` + uuid.NewString() + `"`
	tests := map[string]string{
		"Empty":           ``,
		"NotJSON":         `hello`,
		"Array":           `[]`,
		"Truncated":       `{"name":"demo:event",` + valid,
		"MissingName":     `{` + valid + `,"properties":{},"timestamp":1}`,
		"MissingUUID":     `{"name":"demo:event","properties":{},"timestamp":1}`,
		"MissingProps":    `{"name":"demo:event",` + valid + `,"timestamp":1}`,
		"MissingTS":       `{"name":"demo:event",` + valid + `,"properties":{}}`,
		"EmptyName":       `{"name":"",` + valid + `,"properties":{},"timestamp":1}`,
		"BadUUID":         `{"name":"demo:event","uuid":"x","properties":{},"timestamp":1}`,
		"FloatTS":         `{"name":"demo:event",` + valid + `,"properties":{},"timestamp":1.5}`,
		"StringTS":        `{"name":"demo:event",` + valid + `,"properties":{},"timestamp":"1"}`,
		"PropsNotObject":  `{"name":"demo:event",` + valid + `,"properties":"x","timestamp":1}`,
		"PropsFullArray":  `{"name":"demo:event",` + valid + `,"properties":[1],"timestamp":1}`,
		"NameNotString":   `{"name":5,` + valid + `,"properties":{},"timestamp":1}`,
		"TrailingGarbage": `{"name":"demo:event",` + valid + `,"properties":{},"timestamp":1}{}`,
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := envelope.Unmarshal([]byte(in))
			assert.Nil(t, e)
			assert.ErrorIs(t, err, envelope.ErrDecoding)
		})
	}
}

func TestUnmarshal_Lenient(t *testing.T) {
	id := uuid.NewString()
	tests := map[string]string{
		"PHPEmptyArray": `{"name":"demo:event","uuid":"` + id + `","properties":[],"timestamp":1700000000}`,
		"NullProps":     `{"name":"demo:event","uuid":"` + id + `","properties":null,"timestamp":1700000000}`,
		"ReorderedKeys": `{"timestamp":1700000000,"properties":{},"uuid":"` + id + `","name":"demo:event"}`,
		"UnknownKey":    `{"name":"demo:event","uuid":"` + id + `","properties":{},"timestamp":1700000000,"extra":[1,2]}`,
		"Whitespace":    "\n {\"name\":\"demo:event\", \"uuid\":\"" + id + "\",\"properties\":{},\"timestamp\":1700000000}\n",
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := envelope.Unmarshal([]byte(in))
			require.NoError(t, err)
			assert.Equal(t, "demo:event", e.Name())
			assert.Equal(t, id, e.UUID())
			assert.Equal(t, int64(1700000000), e.Timestamp())
			assert.Equal(t, 0, e.Properties().Len())
		})
	}
}

func TestTimestampFormatting(t *testing.T) {
	in := `{"name":"demo:event","uuid":"` + uuid.NewString() + `","properties":{},"timestamp":1700000000}`
	e, err := envelope.Unmarshal([]byte(in))
	require.NoError(t, err)

	assert.Equal(t, "2023-11-14 22:13:20", e.Format(time.DateTime))
	assert.Equal(t, "2023-11-14 22:13:20", e.Strftime("%Y-%m-%d %H:%M:%S"))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), e.Time())
	// Pure: repeated calls do not change the stored value.
	assert.Equal(t, e.Format(time.RFC3339), e.Format(time.RFC3339))
	assert.Equal(t, int64(1700000000), e.Timestamp())
}

func TestJSONNesting(t *testing.T) {
	e, err := envelope.New("demo:event", map[string]any{"id": 1})
	require.NoError(t, err)

	type wrapper struct {
		Envelope *envelope.Envelope `json:"envelope"`
	}
	b, err := json.Marshal(wrapper{Envelope: e})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"envelope":{"name":"demo:event","uuid":`))

	var w wrapper
	require.NoError(t, json.Unmarshal(b, &w))
	assert.True(t, e.Equal(w.Envelope))
}

func jsonInt(i int64) string {
	b, _ := json.Marshal(i)
	return string(b)
}
