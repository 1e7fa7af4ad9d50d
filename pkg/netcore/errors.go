package netcore

import "errors"

var (
	// ErrDuplicateRequestID names a RequestID already outstanding for a
	// peer. Nothing in this package returns it: SendRequest does not check
	// for outstanding ids.
	ErrDuplicateRequestID = errors.New("duplicate request id")

	// ErrUnknownPeer is returned when an operation targets a peer with no
	// live connection.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrStreamTimeout is returned when a substream exceeds the
	// per-request timeout.
	ErrStreamTimeout = errors.New("rpc stream timeout")

	// ErrSubscriptionRejected is returned when the underlying gossip
	// engine rejects a subscribe/unsubscribe call.
	ErrSubscriptionRejected = errors.New("gossip subscription rejected")

	// ErrUnsupportedProtocol is returned when a request's Protocol is not
	// one this core's RPC behaviour knows how to frame.
	ErrUnsupportedProtocol = errors.New("unsupported rpc protocol")

	// ErrDecode marks a payload that could not be decoded; StreamConn's
	// WriteRequest also wraps Encoder failures in it.
	ErrDecode = errors.New("rpc decode error")

	// ErrSentinelRequestID is returned when the public API is called with
	// the reserved internal RequestID.
	ErrSentinelRequestID = errors.New("request id must not be the behaviour sentinel")

	// ErrConstructionFailed wraps a fatal failure building the composite
	// or one of its sub-behaviours at startup.
	ErrConstructionFailed = errors.New("composite construction failed")
)
