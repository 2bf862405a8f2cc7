package observation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortKey_RoundTrip(t *testing.T) {
	tests := []struct {
		caller, method, path string
	}{
		{"checkout", "POST", "/api/orders"},
		{"team#blue", "GET", "/api/orders/{id}"},
		{"unknown", "DELETE", "/"},
	}

	for _, tt := range tests {
		sk := SortKey(tt.caller, tt.method, tt.path)
		caller, method, path, err := ParseSortKey(sk)
		require.NoError(t, err)
		assert.Equal(t, tt.caller, caller)
		assert.Equal(t, tt.method, method)
		assert.Equal(t, tt.path, path)
	}
}

func TestParseSortKey_Malformed(t *testing.T) {
	for _, sk := range []string{"", "NODE#x#y#z", "CALLER#onlycaller", "CALLER#caller#GET"} {
		_, _, _, err := ParseSortKey(sk)
		assert.Error(t, err, sk)
	}
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "SERVICE#my-api", PartitionKey("my-api"))
}

func TestRecordApply_AccumulatesWrites(t *testing.T) {
	agg := Aggregate([]Observation{obs("checkout", 200, 0, "user_id")})[0]
	rec := NewRecord(agg.Key())

	rec.Apply(agg, DefaultRetention)
	rec.Apply(agg, DefaultRetention)

	assert.Equal(t, int64(2), rec.CallCount)
	assert.True(t, rec.RequestFields.Equal(NewStringSet("user_id")))
	assert.True(t, rec.ResponseCodes.Equal(NewStringSet("200")))
}

func TestRecordApply_FirstSeenSetOnce(t *testing.T) {
	early := Aggregate([]Observation{obs("checkout", 200, 0)})[0]
	late := Aggregate([]Observation{obs("checkout", 200, time.Hour)})[0]
	rec := NewRecord(early.Key())

	rec.Apply(late, DefaultRetention)
	rec.Apply(early, DefaultRetention)

	assert.Equal(t, baseTime.Add(time.Hour), rec.FirstSeen)
	assert.Equal(t, baseTime, rec.LastSeen, "last seen is overwritten by every write")
	assert.Equal(t, baseTime.Add(DefaultRetention), rec.ExpiresAt)
}

func TestRecordApply_EmptySetsStayAbsent(t *testing.T) {
	o := obs("checkout", 200, 0)
	o.RequestHeaders = nil
	agg := Aggregate([]Observation{o})[0]
	rec := NewRecord(agg.Key())

	rec.Apply(agg, DefaultRetention)

	assert.Nil(t, rec.RequestFields)
	assert.Nil(t, rec.RequestHeaders)
	assert.Nil(t, rec.QueryParams)
	assert.NotNil(t, rec.ResponseCodes)
}

func TestRecordClone_KeepsAbsence(t *testing.T) {
	rec := &Record{ServiceName: "a", ResponseCodes: NewStringSet("200")}

	clone := rec.Clone()
	clone.ResponseCodes.Add("500")

	assert.Nil(t, clone.RequestFields)
	assert.False(t, rec.ResponseCodes.Has("500"))
}
