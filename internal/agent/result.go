package agent

import (
	"errors"
	"time"

	"github.com/skobkin/lab-agent/internal/api"
	"github.com/skobkin/lab-agent/internal/hostinfo"
	"github.com/skobkin/lab-agent/internal/nvsmi"
	"github.com/skobkin/lab-agent/internal/uploader"
)

// Kind classifies the outcome of a cycle.
type Kind string

const (
	KindOK          Kind = "ok"
	KindTool        Kind = "tool"
	KindHostMetrics Kind = "host_metrics"
	KindUpload      Kind = "upload"
	KindInternal    Kind = "internal"
)

// Kinds lists every cycle outcome in a stable order.
var Kinds = []Kind{KindOK, KindTool, KindHostMetrics, KindUpload, KindInternal}

// CycleResult is the outcome of one sample, aggregate, build and upload pass.
// Payload is set once the cycle got far enough to build one, even if the
// upload then failed.
type CycleResult struct {
	ID       string
	Kind     Kind
	Err      error
	Started  time.Time
	Duration time.Duration
	Payload  *api.Payload
	Upload   uploader.Result
}

// OK reports whether the payload was accepted by the endpoint.
func (r CycleResult) OK() bool {
	return r.Kind == KindOK
}

// Classify maps a cycle error to its Kind. A nil error is KindOK.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}

	var (
		toolErr   *nvsmi.ToolError
		hostErr   *hostinfo.Error
		uploadErr *uploader.Error
	)
	switch {
	case errors.As(err, &toolErr):
		return KindTool
	case errors.As(err, &hostErr):
		return KindHostMetrics
	case errors.As(err, &uploadErr):
		return KindUpload
	default:
		return KindInternal
	}
}
