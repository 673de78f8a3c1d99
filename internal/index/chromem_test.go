package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInDateRange(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	f, err := BuildFilter(testTenant, FilterOptions{DateFrom: from, DateTo: to})
	require.NoError(t, err)

	inside := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	before := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	meta := func(ts time.Time) map[string]string {
		return metadataToString(map[string]interface{}{MetaSentAtTS: ts.Unix()})
	}

	assert.True(t, inDateRange(meta(inside), f))
	assert.True(t, inDateRange(meta(from), f), "bounds are inclusive")
	assert.True(t, inDateRange(meta(to), f), "bounds are inclusive")
	assert.False(t, inDateRange(meta(before), f))
	assert.False(t, inDateRange(meta(after), f))

	// Missing or garbage timestamps are excluded rather than leaked.
	assert.False(t, inDateRange(map[string]string{}, f))
	assert.False(t, inDateRange(map[string]string{MetaSentAtTS: "not-a-number"}, f))
}

func TestMetadataStringRoundTrip(t *testing.T) {
	meta := map[string]interface{}{
		MetaOrgID:      "acme",
		MetaChunkIndex: 3,
		MetaSentAtTS:   int64(1710499800),
		"flag":         true,
	}

	converted := metadataToString(meta)
	assert.Equal(t, "acme", converted[MetaOrgID])
	assert.Equal(t, "3", converted[MetaChunkIndex])
	assert.Equal(t, "1710499800", converted[MetaSentAtTS])
	assert.Equal(t, "true", converted["flag"])

	back := metadataFromString(converted)
	assert.Equal(t, "acme", back[MetaOrgID])
	assert.Equal(t, "3", back[MetaChunkIndex])
}
