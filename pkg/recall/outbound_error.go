package recall

import (
	"errors"
	"fmt"
	"strings"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationSendMedia identifies SendMedia operations.
	OutboundOperationSendMedia OutboundOperation = "send_media"
	// OutboundOperationBlockActor identifies BlockActor operations.
	OutboundOperationBlockActor OutboundOperation = "block_actor"
	// OutboundOperationFetchMedia identifies FetchMedia operations.
	OutboundOperationFetchMedia OutboundOperation = "fetch_media"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	Operation OutboundOperation
	Kind      OutboundErrorKind
	Platform  Platform
	SinkID    string
	// Code carries an optional platform status code when known.
	Code  int
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 5)
	if e.Operation != "" {
		fields = append(fields, "operation="+string(e.Operation))
	}
	if e.Kind != "" {
		fields = append(fields, "kind="+string(e.Kind))
	}
	if e.Platform != "" {
		fields = append(fields, "platform="+string(e.Platform))
	}
	if sinkID := strings.TrimSpace(e.SinkID); sinkID != "" {
		fields = append(fields, "sink_id="+sinkID)
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}

	summary := "outbound error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) {
		return outboundErr, true
	}

	return nil, false
}
