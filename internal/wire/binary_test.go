package wire

import (
	"bytes"
	"testing"
)

func TestClientMessageJoinRoundTrip(t *testing.T) {
	in := ClientMessage{
		ClientID:   "c-1",
		DocumentID: "doc-1",
		Timestamp:  123,
		Kind:       KindJoinDocument,
		JoinDocument: JoinDocumentPayload{
			UserID:       "alice",
			UserName:     "Alice",
			UserColor:    "#ff0000",
			UserMetadata: map[string]string{"tier": "pro"},
		},
	}
	out, err := DecodeClientMessage(EncodeClientMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ClientID != in.ClientID || out.DocumentID != in.DocumentID || out.Timestamp != in.Timestamp {
		t.Fatalf("envelope mismatch: %+v", out)
	}
	if out.Kind != KindJoinDocument {
		t.Fatalf("expected KindJoinDocument, got %v", out.Kind)
	}
	if out.JoinDocument.UserID != "alice" || out.JoinDocument.UserMetadata["tier"] != "pro" {
		t.Fatalf("unexpected join payload: %+v", out.JoinDocument)
	}
}

func TestClientMessageUpdateRoundTrip(t *testing.T) {
	in := ClientMessage{
		ClientID:   "c-1",
		DocumentID: "doc-1",
		Kind:       KindUpdateMessage,
		UpdateMessage: UpdateMessagePayload{
			UpdateData:     []byte{1, 2, 3, 4},
			OriginClientID: "c-1",
			SequenceNumber: 7,
		},
	}
	out, err := DecodeClientMessage(EncodeClientMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.UpdateMessage.UpdateData, in.UpdateMessage.UpdateData) {
		t.Fatalf("update bytes mismatch: %v", out.UpdateMessage.UpdateData)
	}
	if out.UpdateMessage.SequenceNumber != 7 {
		t.Fatalf("expected sequence_number 7, got %d", out.UpdateMessage.SequenceNumber)
	}
}

func TestClientMessageSyncRequestEmptyStateVector(t *testing.T) {
	in := ClientMessage{ClientID: "c-1", DocumentID: "doc-1", Kind: KindSyncRequest}
	out, err := DecodeClientMessage(EncodeClientMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != KindSyncRequest {
		t.Fatalf("expected KindSyncRequest, got %v", out.Kind)
	}
	if len(out.SyncRequest.StateVector) != 0 {
		t.Fatalf("expected empty state vector, got %v", out.SyncRequest.StateVector)
	}
}

func TestClientMessageHeartbeatRoundTrip(t *testing.T) {
	in := ClientMessage{ClientID: "c-1", DocumentID: "doc-1", Kind: KindHeartBeat, HeartBeat: HeartBeatPayload{Timestamp: 42}}
	out, err := DecodeClientMessage(EncodeClientMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HeartBeat.Timestamp != 42 {
		t.Fatalf("expected timestamp 42, got %d", out.HeartBeat.Timestamp)
	}
}

func TestClientMessageMissingOneOfIsError(t *testing.T) {
	var b []byte
	b = appendStringField(b, fieldClientID, "c-1")
	if _, err := DecodeClientMessage(b); err == nil {
		t.Fatal("expected an error for a message with no one_of payload")
	}
}

func TestServerMessageErrorRoundTrip(t *testing.T) {
	in := ServerMessage{
		DocumentID: "doc-1",
		Timestamp:  99,
		Kind:       KindErrorMessage,
		ErrorMessage: ErrorMessagePayload{
			ErrorCode:    4,
			ErrorMessage: "malformed update",
			ErrorType:    ErrorInvalidUpdate,
		},
	}
	out, err := DecodeServerMessage(EncodeServerMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ErrorMessage.ErrorType != ErrorInvalidUpdate || out.ErrorMessage.ErrorMessage != "malformed update" {
		t.Fatalf("unexpected error payload: %+v", out.ErrorMessage)
	}
}

func TestServerMessageDocumentStateRoundTrip(t *testing.T) {
	in := ServerMessage{
		DocumentID: "doc-1",
		Kind:       KindDocumentState,
		DocumentState: DocumentStatePayload{
			StateVector:  []byte{9, 9},
			DocumentData: []byte("hello"),
			ActiveUsers: []ActiveUser{
				{ClientID: "c-1", UserID: "alice", UserName: "Alice", UserColor: "#f00"},
				{ClientID: "c-2", UserID: "bob", UserName: "Bob", UserColor: "#00f"},
			},
			LastModified: 555,
		},
	}
	out, err := DecodeServerMessage(EncodeServerMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.DocumentState.DocumentData, []byte("hello")) {
		t.Fatalf("document data mismatch: %s", out.DocumentState.DocumentData)
	}
	if len(out.DocumentState.ActiveUsers) != 2 || out.DocumentState.ActiveUsers[1].UserID != "bob" {
		t.Fatalf("active users mismatch: %+v", out.DocumentState.ActiveUsers)
	}
	if out.DocumentState.LastModified != 555 {
		t.Fatalf("expected last_modified 555, got %d", out.DocumentState.LastModified)
	}
}

func TestServerMessageUserJoinedRoundTrip(t *testing.T) {
	in := ServerMessage{
		DocumentID: "doc-1",
		Kind:       KindUserJoined,
		UserJoined: UserJoinedPayload{
			UserID:       "alice",
			UserName:     "Alice",
			UserColor:    "#f00",
			ClientID:     "c-1",
			UserMetadata: map[string]string{"locale": "en"},
		},
	}
	out, err := DecodeServerMessage(EncodeServerMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserJoined.ClientID != "c-1" || out.UserJoined.UserMetadata["locale"] != "en" {
		t.Fatalf("unexpected user joined payload: %+v", out.UserJoined)
	}
}
