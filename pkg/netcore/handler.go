package netcore

// HandlerDirection classifies which side of a substream a HandlerErr
// occurred on.
type HandlerDirection int

const (
	// DirectionInbound marks an error on a substream the peer opened to
	// send us a request: we sent an error response, or we timed out
	// reading it.
	DirectionInbound HandlerDirection = iota
	// DirectionOutbound marks an error on a substream we opened to send
	// a request we originated.
	DirectionOutbound
)

// HandlerErrorKind names the failure observed on a substream.
type HandlerErrorKind int

const (
	HandlerErrorTimeout HandlerErrorKind = iota
	HandlerErrorCodec
	HandlerErrorReset
	// HandlerErrorRejected marks an administrative cancellation: the
	// embedder must drop any in-flight processing tied to the substream.
	HandlerErrorRejected
)

// HandlerErr is the error surface a per-connection handler reports for one
// substream, tagged with enough identity to route it back to the right
// request/response pair.
type HandlerErr struct {
	Direction HandlerDirection
	Protocol  Protocol
	Kind      HandlerErrorKind
	// SubstreamID identifies the substream for Inbound errors; RequestID
	// identifies the request for Outbound errors.
	SubstreamID SubstreamID
	RequestID   RequestID
	Err         error
}

func (e *HandlerErr) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "handler error"
}

// RPCReceived is the per-stream inbound event a handler reports to the RPC
// behaviour: either a fresh request, or a response to a request we sent.
type RPCReceived struct {
	IsRequest bool

	// Request fields.
	SubstreamID SubstreamID
	Request     RPCRequest

	// Response fields.
	RequestID RequestID
	Response  RPCResponse
}

func ReceivedRequest(sub SubstreamID, req RPCRequest) RPCReceived {
	return RPCReceived{IsRequest: true, SubstreamID: sub, Request: req}
}

func ReceivedResponse(id RequestID, resp RPCResponse) RPCReceived {
	return RPCReceived{IsRequest: false, RequestID: id, Response: resp}
}

// RPCMessage is what the RPC behaviour surfaces to the composite driver
// for each handler outcome: either a received request/response, or an
// error, always tagged with peer and connection identity.
type RPCMessage struct {
	Peer PeerID
	Conn ConnectionID

	IsError bool
	Event   RPCReceived
	Err     *HandlerErr
}

// RPCSend is what the composite driver asks a per-connection handler to
// transmit: an outbound request, or a response chunk to an inbound one.
type RPCSend struct {
	IsResponse bool

	RequestID RequestID
	Request   RPCRequest

	SubstreamID SubstreamID
	Response    RPCCodedResponse
}

func SendRequest(id RequestID, req RPCRequest) RPCSend {
	return RPCSend{IsResponse: false, RequestID: id, Request: req}
}

func SendResponseChunk(sub SubstreamID, resp RPCCodedResponse) RPCSend {
	return RPCSend{IsResponse: true, SubstreamID: sub, Response: resp}
}

// CompositeEvent is the event enum a per-connection CompositeHandler
// exposes upward to the behaviour layer.
type CompositeEvent struct {
	// IsCustom selects the inert extension-point variant; implementers
	// must accept it without failing. When false, To/Payload carry the
	// delegated sub-handler event.
	IsCustom bool
	To       SubBehaviour
	Payload  any
}

// SubBehaviour tags which child sub-handler produced or must consume a
// delegated payload.
type SubBehaviour int

const (
	SubGossip SubBehaviour = iota
	SubRPC
	SubIdentify
)

func (s SubBehaviour) String() string {
	switch s {
	case SubGossip:
		return "gossip"
	case SubRPC:
		return "rpc"
	case SubIdentify:
		return "identify"
	default:
		return "unknown"
	}
}

// CompositeInput is the input enum the behaviour layer sends down to a
// per-connection CompositeHandler.
type CompositeInput struct {
	// IsShutdown selects the Shutdown variant: if FinalRequest is
	// non-nil, the handler must attempt to send it as a last outbound
	// message on every substream (semantically a goodbye) before
	// transitioning every substream toward closing. The close is
	// best-effort: failures are silently absorbed since the peer may
	// already be gone.
	IsShutdown   bool
	FinalRequest *RPCSend

	// Delegate variant, used when IsShutdown is false.
	To      SubBehaviour
	Payload any
}

func DelegateInput(to SubBehaviour, payload any) CompositeInput {
	return CompositeInput{To: to, Payload: payload}
}

func ShutdownInput(final *RPCSend) CompositeInput {
	return CompositeInput{IsShutdown: true, FinalRequest: final}
}
