package pdfgate

import (
	"errors"
)

var (
	ErrParserDeCompressionError = errors.New("decompression error")
	ErrParserParseObjectError   = errors.New("parse object error")
	ErrParserReadStreamError    = errors.New("read stream error")
	ErrParserXRefNotFound       = errors.New("xref table not found")
)

var (
	// ErrAuthRejected reports a wrong password or a non-200 answer from /auth.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrAuthUnreachable reports a transport failure during authentication.
	ErrAuthUnreachable = errors.New("authentication server unreachable")

	ErrDocumentLoadFailed = errors.New("document load failed")
	ErrPageRenderFailed   = errors.New("page render failed")
	ErrImageLoadFailed    = errors.New("image load failed")

	ErrGateBusy     = errors.New("authentication already in progress")
	ErrGateClosed   = errors.New("access gate closed")
	ErrViewerClosed = errors.New("viewer closed")
	// ErrNotOpened is returned before Open has finished preparing the mode.
	ErrNotOpened     = errors.New("viewer not opened")
	ErrWrongMode     = errors.New("operation not available in this display mode")
	ErrSweepInFlight = errors.New("preload sweep already running")
)
