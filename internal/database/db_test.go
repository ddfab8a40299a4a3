package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestSortedUnique(t *testing.T) {
	keys := []string{"trainer:3", "client:12", "trainer:3", "client:1"}
	assert.Equal(t, []string{"client:1", "client:12", "trainer:3"}, SortedUnique(keys))
	assert.Empty(t, SortedUnique(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"lock not available", &pq.Error{Code: "55P03"}, true},
		{"wrapped deadlock", fmt.Errorf("insert session: %w", &pq.Error{Code: "40P01"}), true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "idx_sessions_request_key"}

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "idx_sessions_request_key"))
	assert.False(t, IsUniqueViolation(err, "idx_assignments_active_client"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "40001"}, ""))
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS sessions")
	assert.Contains(t, schema, "idx_assignments_active_client")
}
