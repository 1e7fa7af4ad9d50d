package netcore

import ma "github.com/multiformats/go-multiaddr"

// HandlerTarget selects which per-connection handler(s) a NotifyHandler
// action is delivered to.
type HandlerTarget struct {
	kind handlerTargetKind
	conn ConnectionID
}

type handlerTargetKind int

const (
	// TargetAny delivers to any single live connection; used for new
	// outbound requests and for the once-only goodbye notification.
	targetAny handlerTargetKind = iota
	// TargetOne delivers to exactly one connection; used for responses,
	// where PeerRequestID pins the connection the request arrived on.
	targetOne
	// TargetAll delivers to every live connection; used only for the
	// final shutdown that follows a goodbye.
	targetAll
)

// TargetAny builds a HandlerTarget addressing any single live connection.
func TargetAny() HandlerTarget { return HandlerTarget{kind: targetAny} }

// TargetOne builds a HandlerTarget addressing exactly one connection.
func TargetOne(conn ConnectionID) HandlerTarget {
	return HandlerTarget{kind: targetOne, conn: conn}
}

// TargetAll builds a HandlerTarget addressing every live connection.
func TargetAll() HandlerTarget { return HandlerTarget{kind: targetAll} }

func (t HandlerTarget) String() string {
	switch t.kind {
	case targetOne:
		return "One"
	case targetAll:
		return "All"
	default:
		return "Any"
	}
}

// IsAny, IsOne, IsAll classify a HandlerTarget. Conn is only meaningful
// when IsOne is true.
func (t HandlerTarget) IsAny() bool { return t.kind == targetAny }
func (t HandlerTarget) IsOne() bool { return t.kind == targetOne }
func (t HandlerTarget) IsAll() bool { return t.kind == targetAll }
func (t HandlerTarget) Conn() ConnectionID { return t.conn }

// DialCondition mirrors the swarm's redial policy: Disconnected means
// "only dial if not already connected."
type DialCondition int

const (
	DialConditionDisconnected DialCondition = iota
	DialConditionAlways
)

// Action is the outward instruction a sub-behaviour or the composite
// driver returns from a poll step. Exactly one field group is populated,
// selected by Kind.
type Action struct {
	Kind ActionKind

	// DialAddress / DialPeer
	Addr      ma.Multiaddr
	Peer      PeerID
	Condition DialCondition

	// NotifyHandler
	Target  HandlerTarget
	Payload any

	// ReportObservedAddr
	Observed ma.Multiaddr

	// GenerateEvent
	Event Event
}

// ActionKind discriminates Action's variant.
type ActionKind int

const (
	ActionDialAddress ActionKind = iota
	ActionDialPeer
	ActionNotifyHandler
	ActionReportObservedAddr
	ActionGenerateEvent
)

func DialAddressAction(addr ma.Multiaddr) Action {
	return Action{Kind: ActionDialAddress, Addr: addr}
}

func DialPeerAction(p PeerID, cond DialCondition) Action {
	return Action{Kind: ActionDialPeer, Peer: p, Condition: cond}
}

func NotifyHandlerAction(p PeerID, target HandlerTarget, payload any) Action {
	return Action{Kind: ActionNotifyHandler, Peer: p, Target: target, Payload: payload}
}

func ReportObservedAddrAction(addr ma.Multiaddr) Action {
	return Action{Kind: ActionReportObservedAddr, Observed: addr}
}

func GenerateEventAction(ev Event) Action {
	return Action{Kind: ActionGenerateEvent, Event: ev}
}
