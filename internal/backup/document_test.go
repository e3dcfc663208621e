package backup

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataPreservesOrder(t *testing.T) {
	var d Data
	d.Set("zebras", []Record{{"id": "z"}})
	d.Set("apples", nil)
	d.Set("zebras", []Record{{"id": "z2"}})

	assert.Equal(t, []string{"zebras", "apples"}, d.Names())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"zebras":[{"id":"z2"}],"apples":[]}`, string(out))
}

func TestUnmarshalDocument(t *testing.T) {
	raw := `{
		"version": "1.0",
		"timestamp": "2024-03-01T10:20:30.123Z",
		"data": {
			"users": [{"id": "u1", "credits": 9007199254740993}],
			"plans": null,
			"currencies": []
		}
	}`

	doc, err := UnmarshalDocument([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "1.0", doc.Version)
	assert.True(t, doc.Timestamp.Equal(time.Date(2024, 3, 1, 10, 20, 30, 123_000_000, time.UTC)))
	assert.Equal(t, []string{"users", "currencies"}, doc.Data.Names())
	assert.False(t, doc.Data.Has("plans"))

	users, _ := doc.Data.Get("users")
	assert.Equal(t, json.Number("9007199254740993"), users[0]["credits"])
}

func TestMarshalDocumentRoundTrip(t *testing.T) {
	doc := NewDocument(time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)))
	doc.Data.Set("users", []Record{{"id": "u1"}})

	out, err := MarshalDocument(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"timestamp": "2024-01-02T02:04:05Z"`)

	back, err := UnmarshalDocument(out)
	require.NoError(t, err)
	assert.Equal(t, doc.Data.Names(), back.Data.Names())
	assert.NoError(t, ValidateDocument(back))
}

func TestValidateDocument(t *testing.T) {
	doc := NewDocument(time.Now())
	assert.Error(t, ValidateDocument(doc))

	doc.Data.Set("users", nil)
	assert.NoError(t, ValidateDocument(doc))

	doc.Version = ""
	assert.NoError(t, ValidateDocument(doc))

	doc.Version = "0.9"
	assert.Error(t, ValidateDocument(doc))
}

func TestRecordChildren(t *testing.T) {
	r := Record{
		"id":     42,
		"prices": []any{map[string]any{"id": "a"}},
		"bad":    "nope",
	}
	assert.Equal(t, "42", r.ID())

	children, err := r.Children("prices")
	require.NoError(t, err)
	assert.Len(t, children, 1)

	none, err := r.Children("missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = r.Children("bad")
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 59, 5_000_000, time.UTC)
	assert.Equal(t, "backup-2024-12-31T23-59-59-005Z.json", Filename(ts))
}

func TestLockDoesNotQueue(t *testing.T) {
	var l Lock

	release, err := l.Acquire()
	require.NoError(t, err)

	_, err = l.Acquire()
	assert.ErrorIs(t, err, ErrBusy)

	release()
	release, err = l.Acquire()
	require.NoError(t, err)
	release()
}
