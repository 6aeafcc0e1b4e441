package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for requests, responses and
// broadcasts. Which fields are used depends on the type of message.
//
// Identifiers and payloads are aligned: Payloads[i] belongs to IDs[i]. In a
// Get response an empty payload marks an absent entry, in a Resolve response
// an empty key marks an unknown identifier.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type" msgpack:"t"`

	// Cache key, used by every cache operation
	CycleID    uint64 `json:"cycle_id,omitempty" msgpack:"c,omitempty"`
	CalcConfig string `json:"calc_config,omitempty" msgpack:"cc,omitempty"`

	// Payload fields
	IDs      []uint64 `json:"ids,omitempty" msgpack:"i,omitempty"`      // Used for: Get, Put, Find, Identify (response), Resolve
	Payloads [][]byte `json:"payloads,omitempty" msgpack:"p,omitempty"` // Used for: Get (response), Put (request)
	Keys     [][]byte `json:"keys,omitempty" msgpack:"k,omitempty"`     // Used for: Identify (request), Resolve (response), Register (node name)

	// Response only fields
	Err string `json:"err,omitempty" msgpack:"e,omitempty"` // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request for the shared entries of ids
func NewGetRequest(cycleID uint64, calcConfig string, ids []uint64) *Message {
	return &Message{
		MsgType:    MsgTGet,
		CycleID:    cycleID,
		CalcConfig: calcConfig,
		IDs:        ids,
	}
}

// NewGetResponse creates a new Get response. The payloads are aligned with ids,
// absent entries get an empty payload.
func NewGetResponse(ids []uint64, found map[uint64][]byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTGet,
	}
	if err != nil {
		msg.Err = err.Error()
		return msg
	}
	msg.IDs = ids
	msg.Payloads = make([][]byte, len(ids))
	for i, id := range ids {
		if v, ok := found[id]; ok {
			msg.Payloads[i] = v
		} else {
			msg.Payloads[i] = []byte{}
		}
	}
	return msg
}

// NewPutRequest creates a new Put request. ids and payloads must be aligned.
func NewPutRequest(cycleID uint64, calcConfig string, ids []uint64, payloads [][]byte) *Message {
	return &Message{
		MsgType:    MsgTPut,
		CycleID:    cycleID,
		CalcConfig: calcConfig,
		IDs:        ids,
		Payloads:   payloads,
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(err error) *Message {
	return newAck(MsgTPut, err)
}

// NewDeleteRequest creates a new Delete request for the shared entries of a cache key
func NewDeleteRequest(cycleID uint64, calcConfig string) *Message {
	return &Message{
		MsgType:    MsgTDelete,
		CycleID:    cycleID,
		CalcConfig: calcConfig,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	return newAck(MsgTDelete, err)
}

// NewFindMessage creates a new Find broadcast
func NewFindMessage(cycleID uint64, calcConfig string, ids []uint64) *Message {
	return &Message{
		MsgType:    MsgTFind,
		CycleID:    cycleID,
		CalcConfig: calcConfig,
		IDs:        ids,
	}
}

// NewFindResponse acknowledges a Find that a client asked the server to forward
func NewFindResponse(err error) *Message {
	return newAck(MsgTFind, err)
}

// NewReleaseCacheMessage creates a new ReleaseCache request or broadcast
func NewReleaseCacheMessage(cycleID uint64) *Message {
	return &Message{
		MsgType: MsgTReleaseCache,
		CycleID: cycleID,
	}
}

// NewReleaseCacheResponse creates a new ReleaseCache response
func NewReleaseCacheResponse(err error) *Message {
	return newAck(MsgTReleaseCache, err)
}

// NewRegisterRequest creates a new Register request. The connection the
// request arrives on receives the broadcasts of the server from now on.
// The node name is only used for logging.
func NewRegisterRequest(node string) *Message {
	return &Message{
		MsgType: MsgTRegister,
		Keys:    [][]byte{[]byte(node)},
	}
}

// NewRegisterResponse creates a new Register response
func NewRegisterResponse(err error) *Message {
	return newAck(MsgTRegister, err)
}

// NewIdentifyRequest creates a new Identify request for canonically encoded keys
func NewIdentifyRequest(keys [][]byte) *Message {
	return &Message{
		MsgType: MsgTIdentify,
		Keys:    keys,
	}
}

// NewIdentifyResponse creates a new Identify response, ids are aligned with the request keys
func NewIdentifyResponse(ids []uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTIdentify,
		IDs:     ids,
	}
	if err != nil {
		msg.IDs = nil
		msg.Err = err.Error()
	}
	return msg
}

// NewResolveRequest creates a new Resolve request
func NewResolveRequest(ids []uint64) *Message {
	return &Message{
		MsgType: MsgTResolve,
		IDs:     ids,
	}
}

// NewResolveResponse creates a new Resolve response, keys are aligned with ids
// and empty for unknown identifiers
func NewResolveResponse(ids []uint64, keys [][]byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTResolve,
		IDs:     ids,
		Keys:    keys,
	}
	if err != nil {
		msg.IDs, msg.Keys = nil, nil
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

func newAck(t MessageType, err error) *Message {
	msg := &Message{
		MsgType: t,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// Validate checks the structural invariants of the message type: aligned
// identifier and payload lists and the presence of a cache key where one
// is required.
func (m *Message) Validate() error {
	switch m.MsgType {
	case MsgTGet, MsgTFind:
		if m.CalcConfig == "" {
			return fmt.Errorf("%s: missing calculation configuration", m.MsgType)
		}
	case MsgTPut:
		if m.CalcConfig == "" {
			return fmt.Errorf("%s: missing calculation configuration", m.MsgType)
		}
		if len(m.IDs) != len(m.Payloads) {
			return fmt.Errorf("%s: %d ids but %d payloads", m.MsgType, len(m.IDs), len(m.Payloads))
		}
		// an empty payload reads back as absent
		for i, p := range m.Payloads {
			if len(p) == 0 {
				return fmt.Errorf("%s: empty payload for id %d", m.MsgType, m.IDs[i])
			}
		}
	case MsgTDelete:
		if m.CalcConfig == "" {
			return fmt.Errorf("%s: missing calculation configuration", m.MsgType)
		}
	case MsgTUnknown:
		return fmt.Errorf("unknown message type")
	}
	return nil
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTError:        "error",
	MsgTGet:          "get",
	MsgTPut:          "put",
	MsgTDelete:       "delete",
	MsgTFind:         "find",
	MsgTReleaseCache: "releaseCache",
	MsgTRegister:     "register",
	MsgTIdentify:     "identify",
	MsgTResolve:      "resolve",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsBroadcast reports whether messages of this type are pushed by the server
// without a request.
func (t MessageType) IsBroadcast() bool {
	return t == MsgTFind || t == MsgTReleaseCache
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "unknown" {
		*t = MsgTUnknown
		return nil
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTError               // Indicates an error occurred

	// Cache operations

	MsgTGet    // Get shared payloads by identifier
	MsgTPut    // Put shared payloads
	MsgTDelete // Delete the shared entries of a cache key

	// Broadcasts

	MsgTFind         // Ask peers to publish privately held payloads
	MsgTReleaseCache // Release every cache of a cycle

	// Session and identifier operations

	MsgTRegister // Subscribe the connection to broadcasts
	MsgTIdentify // Intern value keys
	MsgTResolve  // Resolve identifiers to value keys

	// msgTLast is the last defined message type
	msgTLast = MsgTResolve
)

// MessageTypes returns every defined message type except MsgTUnknown.
func MessageTypes() []MessageType {
	out := make([]MessageType, 0, int(msgTLast))
	for t := MsgTError; t <= msgTLast; t++ {
		out = append(out, t)
	}
	return out
}
