// Package wire implements the binary streaming RPC's message catalogue
// (spec.md §6): ClientMessage and ServerMessage, each a tagged one_of over a
// fixed set of payload kinds, plus the ErrorType enum.
//
// No .proto file ships with this repo, so there is nothing to run protoc
// against and no generated *.pb.go to import. The corpus's protobuf usage
// (bringyour-connect/connect) relies on exactly that codegen step, which
// this environment cannot perform. What it does not depend on is
// google.golang.org/protobuf/encoding/protowire: the low-level, hand-writable
// tag/varint/length-delimited primitives the generated code itself is built
// on. Using protowire directly keeps the wire format real protobuf bytes
// that a generated codec for a matching .proto can decode, without
// fabricating a codec of our own. The bytes are not identical to what
// generated code would emit: zero-valued fields are always written, and
// metadata map entries follow Go's map iteration order.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrorType mirrors spec.md §6's ErrorType enum.
type ErrorType int32

const (
	ErrorUnknown           ErrorType = 0
	ErrorAuthentication    ErrorType = 1
	ErrorAuthorization     ErrorType = 2
	ErrorDocumentNotFound  ErrorType = 3
	ErrorInvalidUpdate     ErrorType = 4
	ErrorRateLimitExceeded ErrorType = 5
	ErrorConnection        ErrorType = 6
)

// Field numbers for ClientMessage and ServerMessage envelopes. 1-3 are the
// shared envelope fields; 10+ are the one_of payload kinds, each encoded as
// a length-delimited submessage so at most one is ever present.
const (
	fieldClientID   = 1
	fieldDocumentID = 2
	fieldTimestamp  = 3

	fieldSyncRequest     = 10
	fieldUpdateMessage   = 11
	fieldAwarenessUpdate = 12
	fieldJoinDocument    = 13
	fieldLeaveDocument   = 14
	fieldHeartBeat       = 15

	fieldSyncResponse   = 10 // ServerMessage only
	fieldUserJoined     = 13
	fieldUserLeft       = 14
	fieldErrorMessage   = 15
	fieldDocumentState  = 16
)

// ClientMessageKind discriminates ClientMessage's one_of.
type ClientMessageKind int

const (
	KindSyncRequest ClientMessageKind = iota
	KindUpdateMessage
	KindAwarenessUpdate
	KindJoinDocument
	KindLeaveDocument
	KindHeartBeat
)

// ClientMessage is the envelope every inbound binary RPC message arrives in.
type ClientMessage struct {
	ClientID   string
	DocumentID string
	Timestamp  int64
	Kind       ClientMessageKind

	SyncRequest     SyncRequestPayload
	UpdateMessage   UpdateMessagePayload
	AwarenessUpdate AwarenessUpdatePayload
	JoinDocument    JoinDocumentPayload
	LeaveDocument   LeaveDocumentPayload
	HeartBeat       HeartBeatPayload
}

type SyncRequestPayload struct {
	StateVector []byte
}

type UpdateMessagePayload struct {
	UpdateData     []byte
	OriginClientID string
	SequenceNumber int64
}

type AwarenessUpdatePayload struct {
	ClientID       string
	UserInfo       string
	AwarenessState string
	Timestamp      int64
}

type JoinDocumentPayload struct {
	UserID       string
	UserName     string
	UserColor    string
	UserMetadata map[string]string
}

type LeaveDocumentPayload struct {
	UserID string
}

type HeartBeatPayload struct {
	Timestamp int64
}

// EncodeClientMessage serializes m as protobuf wire bytes.
func EncodeClientMessage(m ClientMessage) []byte {
	var b []byte
	b = appendStringField(b, fieldClientID, m.ClientID)
	b = appendStringField(b, fieldDocumentID, m.DocumentID)
	b = appendInt64Field(b, fieldTimestamp, m.Timestamp)

	switch m.Kind {
	case KindSyncRequest:
		b = appendSubmessage(b, fieldSyncRequest, encodeSyncRequest(m.SyncRequest))
	case KindUpdateMessage:
		b = appendSubmessage(b, fieldUpdateMessage, encodeUpdateMessage(m.UpdateMessage))
	case KindAwarenessUpdate:
		b = appendSubmessage(b, fieldAwarenessUpdate, encodeAwarenessUpdate(m.AwarenessUpdate))
	case KindJoinDocument:
		b = appendSubmessage(b, fieldJoinDocument, encodeJoinDocument(m.JoinDocument))
	case KindLeaveDocument:
		b = appendSubmessage(b, fieldLeaveDocument, encodeLeaveDocument(m.LeaveDocument))
	case KindHeartBeat:
		b = appendSubmessage(b, fieldHeartBeat, encodeHeartBeat(m.HeartBeat))
	}
	return b
}

// DecodeClientMessage parses b into a ClientMessage, returning an error if b
// is truncated, has an unrecognized wire type, or carries no recognized
// one_of payload.
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var m ClientMessage
	sawKind := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ClientMessage{}, fmt.Errorf("wire: client message: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldClientID:
			s, nn, err := consumeString(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			m.ClientID = s
			b = b[nn:]
		case fieldDocumentID:
			s, nn, err := consumeString(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			m.DocumentID = s
			b = b[nn:]
		case fieldTimestamp:
			v, nn, err := consumeVarint(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Timestamp = int64(v)
			b = b[nn:]
		case fieldSyncRequest:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeSyncRequest(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.SyncRequest, sawKind = KindSyncRequest, p, true
			b = b[nn:]
		case fieldUpdateMessage:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeUpdateMessage(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.UpdateMessage, sawKind = KindUpdateMessage, p, true
			b = b[nn:]
		case fieldAwarenessUpdate:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeAwarenessUpdate(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.AwarenessUpdate, sawKind = KindAwarenessUpdate, p, true
			b = b[nn:]
		case fieldJoinDocument:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeJoinDocument(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.JoinDocument, sawKind = KindJoinDocument, p, true
			b = b[nn:]
		case fieldLeaveDocument:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeLeaveDocument(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.LeaveDocument, sawKind = KindLeaveDocument, p, true
			b = b[nn:]
		case fieldHeartBeat:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ClientMessage{}, err
			}
			p, err := decodeHeartBeat(sub)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Kind, m.HeartBeat, sawKind = KindHeartBeat, p, true
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return ClientMessage{}, fmt.Errorf("wire: client message: skip field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}

	if !sawKind {
		return ClientMessage{}, fmt.Errorf("wire: client message: missing one_of payload")
	}
	return m, nil
}

func encodeSyncRequest(p SyncRequestPayload) []byte {
	var b []byte
	return appendBytesField(b, 1, p.StateVector)
}

func decodeSyncRequest(b []byte) (SyncRequestPayload, error) {
	var p SyncRequestPayload
	return p, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			p.StateVector = append([]byte(nil), v...)
		}
		return nil
	})
}

func encodeUpdateMessage(p UpdateMessagePayload) []byte {
	var b []byte
	b = appendBytesField(b, 1, p.UpdateData)
	b = appendStringField(b, 2, p.OriginClientID)
	b = appendInt64Field(b, 3, p.SequenceNumber)
	return b
}

func decodeUpdateMessage(b []byte) (UpdateMessagePayload, error) {
	var p UpdateMessagePayload
	err := walkTypedFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			p.UpdateData = append([]byte(nil), raw...)
		case 2:
			p.OriginClientID = string(raw)
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: update message: bad sequence_number")
			}
			p.SequenceNumber = int64(v)
		}
		return nil
	})
	return p, err
}

func encodeAwarenessUpdate(p AwarenessUpdatePayload) []byte {
	var b []byte
	b = appendStringField(b, 1, p.ClientID)
	b = appendStringField(b, 2, p.UserInfo)
	b = appendStringField(b, 3, p.AwarenessState)
	b = appendInt64Field(b, 4, p.Timestamp)
	return b
}

func decodeAwarenessUpdate(b []byte) (AwarenessUpdatePayload, error) {
	var p AwarenessUpdatePayload
	err := walkTypedFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			p.ClientID = string(raw)
		case 2:
			p.UserInfo = string(raw)
		case 3:
			p.AwarenessState = string(raw)
		case 4:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: awareness update: bad timestamp")
			}
			p.Timestamp = int64(v)
		}
		return nil
	})
	return p, err
}

func encodeJoinDocument(p JoinDocumentPayload) []byte {
	var b []byte
	b = appendStringField(b, 1, p.UserID)
	b = appendStringField(b, 2, p.UserName)
	b = appendStringField(b, 3, p.UserColor)
	for k, v := range p.UserMetadata {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		entry = appendStringField(entry, 2, v)
		b = appendSubmessage(b, 4, entry)
	}
	return b
}

func decodeJoinDocument(b []byte) (JoinDocumentPayload, error) {
	p := JoinDocumentPayload{UserMetadata: make(map[string]string)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			p.UserID = string(raw)
		case 2:
			p.UserName = string(raw)
		case 3:
			p.UserColor = string(raw)
		case 4:
			var key, val string
			if err := walkFields(raw, func(n protowire.Number, t protowire.Type, r []byte) error {
				switch n {
				case 1:
					key = string(r)
				case 2:
					val = string(r)
				}
				return nil
			}); err != nil {
				return err
			}
			p.UserMetadata[key] = val
		}
		return nil
	})
	return p, err
}

func encodeLeaveDocument(p LeaveDocumentPayload) []byte {
	var b []byte
	return appendStringField(b, 1, p.UserID)
}

func decodeLeaveDocument(b []byte) (LeaveDocumentPayload, error) {
	var p LeaveDocumentPayload
	return p, walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num == 1 {
			p.UserID = string(raw)
		}
		return nil
	})
}

func encodeHeartBeat(p HeartBeatPayload) []byte {
	var b []byte
	return appendInt64Field(b, 1, p.Timestamp)
}

func decodeHeartBeat(b []byte) (HeartBeatPayload, error) {
	var p HeartBeatPayload
	return p, walkTypedFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num == 1 {
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: heartbeat: bad timestamp")
			}
			p.Timestamp = int64(v)
		}
		return nil
	})
}

// ServerMessageKind discriminates ServerMessage's one_of.
type ServerMessageKind int

const (
	KindSyncResponse ServerMessageKind = iota
	KindServerUpdateMessage
	KindServerAwarenessUpdate
	KindUserJoined
	KindUserLeft
	KindErrorMessage
	KindDocumentState
)

type ServerMessage struct {
	DocumentID string
	Timestamp  int64
	Kind       ServerMessageKind

	SyncResponse    SyncResponsePayload
	UpdateMessage   UpdateMessagePayload
	AwarenessUpdate AwarenessUpdatePayload
	UserJoined      UserJoinedPayload
	UserLeft        UserLeftPayload
	ErrorMessage    ErrorMessagePayload
	DocumentState   DocumentStatePayload
}

type SyncResponsePayload struct {
	UpdateData []byte
}

type UserJoinedPayload struct {
	UserID       string
	UserName     string
	UserColor    string
	ClientID     string
	UserMetadata map[string]string
}

type UserLeftPayload struct {
	UserID   string
	ClientID string
}

type ErrorMessagePayload struct {
	ErrorCode    int32
	ErrorMessage string
	ErrorType    ErrorType
}

type ActiveUser struct {
	ClientID  string
	UserID    string
	UserName  string
	UserColor string
}

type DocumentStatePayload struct {
	StateVector  []byte
	DocumentData []byte
	ActiveUsers  []ActiveUser
	LastModified int64
}

// EncodeServerMessage serializes m as protobuf wire bytes.
func EncodeServerMessage(m ServerMessage) []byte {
	var b []byte
	b = appendStringField(b, fieldDocumentID, m.DocumentID)
	b = appendInt64Field(b, fieldTimestamp, m.Timestamp)

	switch m.Kind {
	case KindSyncResponse:
		var sub []byte
		sub = appendBytesField(sub, 1, m.SyncResponse.UpdateData)
		b = appendSubmessage(b, fieldSyncResponse, sub)
	case KindServerUpdateMessage:
		b = appendSubmessage(b, fieldUpdateMessage, encodeUpdateMessage(m.UpdateMessage))
	case KindServerAwarenessUpdate:
		b = appendSubmessage(b, fieldAwarenessUpdate, encodeAwarenessUpdate(m.AwarenessUpdate))
	case KindUserJoined:
		b = appendSubmessage(b, fieldUserJoined, encodeUserJoined(m.UserJoined))
	case KindUserLeft:
		var sub []byte
		sub = appendStringField(sub, 1, m.UserLeft.UserID)
		sub = appendStringField(sub, 2, m.UserLeft.ClientID)
		b = appendSubmessage(b, fieldUserLeft, sub)
	case KindErrorMessage:
		var sub []byte
		sub = protowire.AppendTag(sub, 1, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(uint32(m.ErrorMessage.ErrorCode)))
		sub = appendStringField(sub, 2, m.ErrorMessage.ErrorMessage)
		sub = protowire.AppendTag(sub, 3, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(m.ErrorMessage.ErrorType))
		b = appendSubmessage(b, fieldErrorMessage, sub)
	case KindDocumentState:
		b = appendSubmessage(b, fieldDocumentState, encodeDocumentState(m.DocumentState))
	}
	return b
}

func encodeUserJoined(p UserJoinedPayload) []byte {
	var b []byte
	b = appendStringField(b, 1, p.UserID)
	b = appendStringField(b, 2, p.UserName)
	b = appendStringField(b, 3, p.UserColor)
	b = appendStringField(b, 4, p.ClientID)
	for k, v := range p.UserMetadata {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		entry = appendStringField(entry, 2, v)
		b = appendSubmessage(b, 5, entry)
	}
	return b
}

func encodeDocumentState(p DocumentStatePayload) []byte {
	var b []byte
	b = appendBytesField(b, 1, p.StateVector)
	b = appendBytesField(b, 2, p.DocumentData)
	for _, u := range p.ActiveUsers {
		var entry []byte
		entry = appendStringField(entry, 1, u.ClientID)
		entry = appendStringField(entry, 2, u.UserID)
		entry = appendStringField(entry, 3, u.UserName)
		entry = appendStringField(entry, 4, u.UserColor)
		b = appendSubmessage(b, 3, entry)
	}
	b = appendInt64Field(b, 4, p.LastModified)
	return b
}

// DecodeServerMessage parses b into a ServerMessage.
func DecodeServerMessage(b []byte) (ServerMessage, error) {
	var m ServerMessage
	sawKind := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ServerMessage{}, fmt.Errorf("wire: server message: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldDocumentID:
			s, nn, err := consumeString(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			m.DocumentID = s
			b = b[nn:]
		case fieldTimestamp:
			v, nn, err := consumeVarint(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Timestamp = int64(v)
			b = b[nn:]
		case fieldSyncResponse:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			var payload SyncResponsePayload
			if err := walkFields(sub, func(num protowire.Number, t protowire.Type, raw []byte) error {
				if num == 1 {
					payload.UpdateData = append([]byte(nil), raw...)
				}
				return nil
			}); err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.SyncResponse, sawKind = KindSyncResponse, payload, true
			b = b[nn:]
		case fieldUpdateMessage:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			p, err := decodeUpdateMessage(sub)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.UpdateMessage, sawKind = KindServerUpdateMessage, p, true
			b = b[nn:]
		case fieldAwarenessUpdate:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			p, err := decodeAwarenessUpdate(sub)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.AwarenessUpdate, sawKind = KindServerAwarenessUpdate, p, true
			b = b[nn:]
		case fieldUserJoined:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			p, err := decodeUserJoined(sub)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.UserJoined, sawKind = KindUserJoined, p, true
			b = b[nn:]
		case fieldUserLeft:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			var p UserLeftPayload
			if err := walkFields(sub, func(num protowire.Number, t protowire.Type, raw []byte) error {
				switch num {
				case 1:
					p.UserID = string(raw)
				case 2:
					p.ClientID = string(raw)
				}
				return nil
			}); err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.UserLeft, sawKind = KindUserLeft, p, true
			b = b[nn:]
		case fieldErrorMessage:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			p, err := decodeErrorMessage(sub)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.ErrorMessage, sawKind = KindErrorMessage, p, true
			b = b[nn:]
		case fieldDocumentState:
			sub, nn, err := consumeBytes(b, typ)
			if err != nil {
				return ServerMessage{}, err
			}
			p, err := decodeDocumentState(sub)
			if err != nil {
				return ServerMessage{}, err
			}
			m.Kind, m.DocumentState, sawKind = KindDocumentState, p, true
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return ServerMessage{}, fmt.Errorf("wire: server message: skip field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}

	if !sawKind {
		return ServerMessage{}, fmt.Errorf("wire: server message: missing one_of payload")
	}
	return m, nil
}

func decodeUserJoined(b []byte) (UserJoinedPayload, error) {
	p := UserJoinedPayload{UserMetadata: make(map[string]string)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			p.UserID = string(raw)
		case 2:
			p.UserName = string(raw)
		case 3:
			p.UserColor = string(raw)
		case 4:
			p.ClientID = string(raw)
		case 5:
			var key, val string
			if err := walkFields(raw, func(n protowire.Number, t protowire.Type, r []byte) error {
				switch n {
				case 1:
					key = string(r)
				case 2:
					val = string(r)
				}
				return nil
			}); err != nil {
				return err
			}
			p.UserMetadata[key] = val
		}
		return nil
	})
	return p, err
}

func decodeErrorMessage(b []byte) (ErrorMessagePayload, error) {
	var p ErrorMessagePayload
	err := walkTypedFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: error message: bad error_code")
			}
			p.ErrorCode = int32(v)
		case 2:
			p.ErrorMessage = string(raw)
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: error message: bad error_type")
			}
			p.ErrorType = ErrorType(v)
		}
		return nil
	})
	return p, err
}

func decodeDocumentState(b []byte) (DocumentStatePayload, error) {
	var p DocumentStatePayload
	err := walkTypedFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			p.StateVector = append([]byte(nil), raw...)
		case 2:
			p.DocumentData = append([]byte(nil), raw...)
		case 3:
			var u ActiveUser
			if err := walkFields(raw, func(n protowire.Number, t protowire.Type, r []byte) error {
				switch n {
				case 1:
					u.ClientID = string(r)
				case 2:
					u.UserID = string(r)
				case 3:
					u.UserName = string(r)
				case 4:
					u.UserColor = string(r)
				}
				return nil
			}); err != nil {
				return err
			}
			p.ActiveUsers = append(p.ActiveUsers, u)
		case 4:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("wire: document state: bad last_modified")
			}
			p.LastModified = int64(v)
		}
		return nil
	})
	return p, err
}

// --- shared encode/decode helpers ---

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendSubmessage(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func consumeString(b []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("wire: expected bytes-typed field, got %v", typ)
	}
	s, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, fmt.Errorf("wire: bad string field: %w", protowire.ParseError(n))
	}
	return s, n, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes-typed field, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: bad bytes field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint-typed field, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad varint field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// walkFields iterates every top-level field in b, handing fn the decoded
// string/bytes payload of each BytesType field; fields of any other wire
// type are skipped without calling fn. It is used by nested-message
// decoders where every field of interest is itself a bytes/string field.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("wire: bad bytes field %d: %w", num, protowire.ParseError(nn))
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return nil
}

// walkTypedFields is like walkFields but also passes varint-typed fields
// through as their raw un-consumed bytes, letting fn call ConsumeVarint
// itself. Used by decoders that mix string/bytes and numeric fields.
func walkTypedFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			if nn < 0 {
				return fmt.Errorf("wire: bad bytes field %d: %w", num, protowire.ParseError(nn))
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[nn:]
		case protowire.VarintType:
			if err := fn(num, typ, b); err != nil {
				return err
			}
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("wire: bad varint field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return nil
}
