package postgres

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/meditrack/reminder-api/pkg/metrics"
)

func TestBaseRepositoryRecordsOperationOutcomes(t *testing.T) {
	m := metrics.New("base_repo_test")
	base := NewBaseRepository(nil, m)

	base.record("notification_create", nil)
	base.record("notification_create", nil)
	base.record("notification_create", errors.New("connection reset"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DatabaseOperations.WithLabelValues("notification_create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DatabaseOperations.WithLabelValues("notification_create", "error")))
}

func TestBaseRepositoryRecordWithoutMetrics(t *testing.T) {
	base := NewBaseRepository(nil, nil)

	assert.NotPanics(t, func() {
		base.record("notification_create", nil)
	})
}
