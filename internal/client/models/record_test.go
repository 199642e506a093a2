package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name     string
		keyField string
		in       string
		wantID   string
		wantTS   string
		wantRaw  string
		wantErr  bool
	}{
		{
			name:     "client",
			keyField: "id",
			in:       "{\n  \"id\": \"c1\",\n  \"name\": \"Acme\",\n  \"updatedAt\": \"2025-01-01T00:00:00Z\"\n}",
			wantID:   "c1",
			wantTS:   "2025-01-01T00:00:00Z",
			wantRaw:  `{"id":"c1","name":"Acme","updatedAt":"2025-01-01T00:00:00Z"}`,
		},
		{
			name:     "setting keyed by key",
			keyField: "key",
			in:       `{"key":"maxBackups","value":3}`,
			wantID:   "maxBackups",
			wantRaw:  `{"key":"maxBackups","value":3}`,
		},
		{
			name:     "numeric id is ignored",
			keyField: "id",
			in:       `{"id":7,"updatedAt":12}`,
			wantRaw:  `{"id":7,"updatedAt":12}`,
		},
		{name: "array", keyField: "id", in: `[1,2]`, wantErr: true},
		{name: "string", keyField: "id", in: `"x"`, wantErr: true},
		{name: "null", keyField: "id", in: `null`, wantErr: true},
		{name: "broken", keyField: "id", in: `{"id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeRecord(tt.keyField, []byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, r.ID)
			assert.Equal(t, tt.wantTS, r.UpdatedAt)
			assert.Equal(t, tt.wantRaw, string(r.Raw))
		})
	}
}

func TestRecord_MarshalJSON_EmitsRawVerbatim(t *testing.T) {
	r, err := DecodeRecord("id", []byte(`{"z":1,"id":"a","a":[1,2]}`))
	require.NoError(t, err)

	out, err := json.Marshal([]Record{r})
	require.NoError(t, err)
	assert.Equal(t, `[{"z":1,"id":"a","a":[1,2]}]`, string(out))

	empty, err := json.Marshal(Record{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

func TestStamp_SetsIdentityAndTimestamp(t *testing.T) {
	r, err := Stamp("id", []byte(`{"name":"Acme","updatedAt":"old"}`), "c1", "2025-02-03T04:05:06.789Z")
	require.NoError(t, err)

	assert.Equal(t, "c1", r.ID)
	assert.Equal(t, "2025-02-03T04:05:06.789Z", r.UpdatedAt)

	back, err := DecodeRecord("id", r.Raw)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	var name string
	ok, err := back.Field("name", &name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Acme", name)

	_, err = Stamp("id", []byte(`[]`), "x", "y")
	require.ErrorIs(t, err, ErrNotObject)
}

func TestStamp_KeepsMarkupCharacters(t *testing.T) {
	r, err := Stamp("id", []byte(`{"name":"Acme <Ltd> & Co","notes":{"html":"<b>x</b>"}}`), "a<b", "2025-01-01T00:00:00.000Z")
	require.NoError(t, err)

	raw := string(r.Raw)
	assert.Contains(t, raw, `"name":"Acme <Ltd> & Co"`)
	assert.Contains(t, raw, `"html":"<b>x</b>"`)
	assert.Contains(t, raw, `"id":"a<b"`)
	assert.NotContains(t, raw, `\u003c`)
	assert.NotContains(t, raw, `\u0026`)
}

func TestMarshal(t *testing.T) {
	out, err := Marshal(map[string]any{"v": "<&>"})
	require.NoError(t, err)
	assert.Equal(t, `{"v":"<&>"}`, string(out), "no HTML escaping, no trailing newline")
}

func TestRecord_Field(t *testing.T) {
	r, err := DecodeRecord("key", []byte(`{"key":"maxBackups","value":3}`))
	require.NoError(t, err)

	var n int
	ok, err := r.Field("value", &n)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	ok, err = r.Field("missing", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	var s string
	ok, err = r.Field("value", &s)
	assert.True(t, ok)
	require.Error(t, err)
}

func TestCollections(t *testing.T) {
	names := []string{}
	for _, c := range Collections() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"clients", "services", "timeEntries", "invoices", "settings"}, names)

	c, ok := CollectionByName("timeEntries")
	require.True(t, ok)
	assert.Equal(t, "time_entries", c.Table)

	s, ok := CollectionByName("settings")
	require.True(t, ok)
	assert.Equal(t, "key", s.KeyField)

	_, ok = CollectionByName("users")
	assert.False(t, ok)
}
