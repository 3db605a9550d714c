package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordMutation_SplitsByStatus(t *testing.T) {
	okBefore := testutil.ToFloat64(mutationsTotal.WithLabelValues("test_op", "ok"))
	errBefore := testutil.ToFloat64(mutationsTotal.WithLabelValues("test_op", "error"))

	RecordMutation("test_op", nil)
	RecordMutation("test_op", errors.New("boom"))
	RecordMutation("test_op", errors.New("boom"))

	assert.InDelta(t, okBefore+1, testutil.ToFloat64(mutationsTotal.WithLabelValues("test_op", "ok")), 1e-9)
	assert.InDelta(t, errBefore+2, testutil.ToFloat64(mutationsTotal.WithLabelValues("test_op", "error")), 1e-9)
}

func TestRecordResolution_DefaultsSource(t *testing.T) {
	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues("not_found", "none"))
	RecordResolution("not_found", "")
	assert.InDelta(t, before+1, testutil.ToFloat64(resolutionsTotal.WithLabelValues("not_found", "none")), 1e-9)
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/health", "200"))
	RecordHTTPRequest("GET", "/api/health", 200, 5*time.Millisecond)
	assert.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/health", "200")), 1e-9)
}
