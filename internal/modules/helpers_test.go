package modules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZipMatches(t *testing.T) {
	tests := []struct {
		zips string
		zip  string
		want bool
	}{
		{"10001, 10118", "10118", true},
		{"10001,10118", "10001", true},
		{"10001, 10118", "10002", false},
		{"", "10118", true},
		{"10001", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, zipMatches(tt.zips, tt.zip), "zips=%q zip=%q", tt.zips, tt.zip)
	}
}

func TestStreetSegment(t *testing.T) {
	assert.Equal(t, "5 AVENUE (WEST 33 STREET to WEST 34 STREET)", streetSegment("5 AVENUE", "WEST 33 STREET", "WEST 34 STREET"))
	assert.Equal(t, "5 AVENUE", streetSegment("5 AVENUE", "WEST 33 STREET", ""))
	assert.Equal(t, "", streetSegment(" ", "", ""))
}

func TestAllFailed(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		outs []outcome
		want bool
	}{
		{"empty", nil, false},
		{"all errors", []outcome{{err: boom}, {err: boom}}, true},
		{"one success", []outcome{{err: boom}, {}}, false},
		{"skipped are ignored", []outcome{{err: boom}, {skipped: true}}, true},
		{"only skipped", []outcome{{skipped: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allFailed(tt.outs))
		})
	}
}

func TestCrashDateTime(t *testing.T) {
	assert.Equal(t, "2026-03-01T08:30:00", crashDateTime("2026-03-01T00:00:00.000", "8:30"))
	assert.Equal(t, "2026-03-01", crashDateTime("2026-03-01T00:00:00.000", "24:00"))
	assert.Equal(t, "2026-03-01", crashDateTime("2026-03-01", "unknown"))
	assert.Equal(t, "", crashDateTime("", "8:30"))
}
