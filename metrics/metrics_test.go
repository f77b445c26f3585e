package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues(JobRemove, ResultTimeout))
	RecordJob(JobRemove, ResultTimeout)
	after := testutil.ToFloat64(JobsTotal.WithLabelValues(JobRemove, ResultTimeout))
	assert.Equal(t, before+1, after)
}
