package whatsapp

import (
	"context"
	"errors"

	"go.mau.fi/whatsmeow"

	"wa-recall/pkg/recall"
)

func mapOutboundError(operation recall.OutboundOperation, sink recall.EventSink, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, recall.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &recall.OutboundError{
		Operation: operation,
		Kind:      classifyOutboundError(err),
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}
	switch {
	case errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith404):
		outboundErr.Code = 404
	case errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith410):
		outboundErr.Code = 410
	}

	return outboundErr
}

func classifyOutboundError(err error) recall.OutboundErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, whatsmeow.ErrNotConnected),
		errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return recall.OutboundErrorKindTemporary
	case errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith404),
		errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith410),
		errors.Is(err, whatsmeow.ErrNoURLPresent),
		errors.Is(err, whatsmeow.ErrInvalidMediaHMAC),
		errors.Is(err, whatsmeow.ErrFileLengthMismatch):
		return recall.OutboundErrorKindPermanent
	default:
		return recall.OutboundErrorKindUnknown
	}
}
