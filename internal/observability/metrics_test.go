package observability

import (
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordFrame(DirectionOut, "message", "plain")
	RecordFrameError("frame_corrupted")
	RecordHandshake("listener", true)
	RecordTransfer(DirectionIn, "completed", 2048, 30*time.Millisecond)
	SessionOpened()
	SessionClosed()
	RecordHTTPRequest("peer-a", "GET", "/health", 200, 12*time.Millisecond)
}

func TestRecordFrameCounts(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(framesTotal.WithLabelValues(DirectionIn, "file_request", "plain"))
	RecordFrame(DirectionIn, "file_request", "plain")
	RecordFrame(DirectionIn, "file_request", "plain")
	after := testutil.ToFloat64(framesTotal.WithLabelValues(DirectionIn, "file_request", "plain"))
	if after-before != 2 {
		t.Fatalf("unexpected frame count delta: %v", after-before)
	}
}
