package netcore

import "fmt"

// Protocol names one of the RPC sub-protocols multiplexed over the wire.
// Inbound Ping, MetaData, and Goodbye requests are locally-terminated;
// Status is the only one surfaced as a public event. The public Request
// type can send Status and Goodbye.
type Protocol int

const (
	ProtocolStatus Protocol = iota
	ProtocolGoodbye
	ProtocolPing
	ProtocolMetaData
)

func (p Protocol) String() string {
	switch p {
	case ProtocolStatus:
		return "status"
	case ProtocolGoodbye:
		return "goodbye"
	case ProtocolPing:
		return "ping"
	case ProtocolMetaData:
		return "metadata"
	default:
		return "unknown"
	}
}

// GoodbyeReason is the opaque reason code carried by a Goodbye request, a
// plain uint64. It has no framing of its own: StreamConn's Encoder encodes
// it as part of the whole RPCSend (a JSON envelope by default), since this
// core does not own wire codecs (see spec Non-goals).
type GoodbyeReason uint64

const GoodbyeReasonUnspecified GoodbyeReason = 0

// StatusMessage, MetaDataPayload, and PingPayload are opaque byte blobs
// whose structure is owned by external codecs; the core only moves them
// around and never interprets their contents.
type StatusMessage []byte
type MetaDataPayload []byte
type PingPayload []byte

// RPCRequest is the internal, full request surface — including the
// locally-terminated protocols that never reach the public Request type.
type RPCRequest struct {
	Protocol Protocol
	Status   StatusMessage
	Goodbye  GoodbyeReason
	Ping     PingPayload
	// MetaData carries no payload; presence of Protocol == ProtocolMetaData
	// is the whole request.
}

func (r RPCRequest) String() string {
	return fmt.Sprintf("RPCRequest{%s}", r.Protocol)
}

// RPCResponseErrorCode classifies a failed RPC response.
type RPCResponseErrorCode int

const (
	RPCResponseSuccess RPCResponseErrorCode = iota
	RPCResponseInvalidRequest
	RPCResponseServerError
	RPCResponseResourceUnavailable
)

// RPCResponse is the internal, full response surface.
type RPCResponse struct {
	Protocol Protocol
	Status   StatusMessage
	Pong     PingPayload
	MetaData MetaDataPayload
}

// RPCCodedResponse wraps an RPCResponse with a success/error code, matching
// the wire concept of a response chunk that may instead carry an error.
type RPCCodedResponse struct {
	Code     RPCResponseErrorCode
	Response RPCResponse
	Reason   string
}

func SuccessResponse(r RPCResponse) RPCCodedResponse {
	return RPCCodedResponse{Code: RPCResponseSuccess, Response: r}
}

func ErrorResponse(code RPCResponseErrorCode, reason string) RPCCodedResponse {
	return RPCCodedResponse{Code: code, Reason: reason}
}

// RPCError is a transport/codec-level failure observed on a stream.
type RPCError struct {
	Protocol Protocol
	Message  string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (%s): %s", e.Protocol, e.Message)
}
