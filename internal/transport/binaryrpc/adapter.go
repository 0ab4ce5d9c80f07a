// Package binaryrpc is the binary streaming RPC adapter (C6, spec.md §4.6):
// a websocket carrying ClientMessage/ServerMessage binary frames, built on
// the teacher's gorilla/websocket Upgrader and register/unregister-style
// connection lifecycle (sumanthd032-CollabText/agent's Hub), generalized
// from a single global document to the full join/dispatch/forward loop the
// spec requires.
package binaryrpc

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabhub/internal/broadcast"
	"collabhub/internal/collab"
	"collabhub/internal/events"
	"collabhub/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// safeConn serializes writes across the dispatch goroutine and the event
// forwarder goroutine; gorilla/websocket permits only one writer at a time
// on a connection.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Adapter is the binary RPC server. It owns no state beyond a reference to
// the use-case façade it dispatches onto.
type Adapter struct {
	UseCases *collab.UseCases
}

// Register mounts the adapter's websocket route and its two unary
// read-through endpoints on r.
func (a *Adapter) Register(r *mux.Router) {
	r.HandleFunc("/rpc", a.serveWS)
	r.HandleFunc("/rpc/document-state/{documentID}", a.serveDocumentState).Methods(http.MethodGet)
	r.HandleFunc("/rpc/active-users/{documentID}", a.serveActiveUsers).Methods(http.MethodGet)
}

func (a *Adapter) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("binaryrpc: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("binaryrpc: recovered panic in connection handler: %v", rec)
		}
	}()
	sc := &safeConn{conn: conn}

	sub, err := a.handshake(conn, sc)
	if err != nil {
		log.Printf("binaryrpc: handshake failed: %v", err)
		return
	}
	defer sub.Unsubscribe()
	clientID := sub.ClientID

	done := make(chan struct{})
	go a.forward(sc, sub, done)

	a.dispatchLoop(conn, sc, clientID)

	close(done)
	a.UseCases.LeaveDocument(clientID)
}

// handshake reads the first inbound message, which spec.md §4.6 requires to
// be JoinDocument, and completes the join. The client's subscription is
// opened before the join is published, so the newcomer receives its own
// UserJoined event.
func (a *Adapter) handshake(conn *websocket.Conn, sc *safeConn) (*broadcast.Subscription, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg, err := wire.DecodeClientMessage(data)
	if err != nil {
		sendError(sc, "", 0, wire.ErrorInvalidUpdate, "first message must be JoinDocument")
		return nil, err
	}
	if msg.Kind != wire.KindJoinDocument {
		sendError(sc, msg.DocumentID, 0, wire.ErrorInvalidUpdate, "first message must be JoinDocument")
		return nil, collab.ErrInvalidUpdate
	}

	sub := a.UseCases.Events.Subscribe(msg.DocumentID, msg.ClientID)
	if _, err := a.UseCases.JoinDocument(msg.ClientID, msg.DocumentID, msg.JoinDocument.UserID, msg.JoinDocument.UserName, msg.JoinDocument.UserColor, msg.JoinDocument.UserMetadata); err != nil {
		sub.Unsubscribe()
		sendError(sc, msg.DocumentID, 0, translateErrorType(err), err.Error())
		return nil, err
	}
	return sub, nil
}

// dispatchLoop reads every subsequent inbound frame and routes it to the
// matching use-case. Errors are reported on the outbound stream and do not
// terminate it (spec.md §4.6 step 3).
func (a *Adapter) dispatchLoop(conn *websocket.Conn, sc *safeConn, clientID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.DecodeClientMessage(data)
		if err != nil {
			sendError(sc, "", 0, wire.ErrorInvalidUpdate, err.Error())
			continue
		}

		switch msg.Kind {
		case wire.KindUpdateMessage:
			if _, err := a.UseCases.HandleDocumentUpdate(clientID, msg.UpdateMessage.UpdateData); err != nil {
				sendError(sc, msg.DocumentID, 0, translateErrorType(err), err.Error())
			}
		case wire.KindAwarenessUpdate:
			if _, err := a.UseCases.HandleAwarenessUpdate(clientID, msg.AwarenessUpdate.UserInfo, msg.AwarenessUpdate.AwarenessState); err != nil {
				sendError(sc, msg.DocumentID, 0, translateErrorType(err), err.Error())
			}
		case wire.KindSyncRequest:
			result, err := a.UseCases.GetSyncData(clientID, msg.SyncRequest.StateVector)
			if err != nil {
				sendError(sc, msg.DocumentID, 0, translateErrorType(err), err.Error())
				continue
			}
			writeServerMessage(sc, wire.ServerMessage{
				DocumentID: msg.DocumentID,
				Timestamp:  time.Now().Unix(),
				Kind:       wire.KindSyncResponse,
				SyncResponse: wire.SyncResponsePayload{
					UpdateData: result.Diff,
				},
			})
		case wire.KindHeartBeat:
			if err := a.UseCases.HandleHeartbeat(clientID); err != nil {
				sendError(sc, msg.DocumentID, 0, translateErrorType(err), err.Error())
			}
		case wire.KindLeaveDocument:
			return
		default:
			sendError(sc, msg.DocumentID, 0, wire.ErrorInvalidUpdate, "unrecognized message kind")
		}
	}
}

// forward translates events published for this session's document into
// outbound ServerMessages until done is closed. Unsubscribe does not close
// the subscription's channel, so done is what ends the loop.
func (a *Adapter) forward(sc *safeConn, sub *broadcast.Subscription, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("binaryrpc: recovered panic in event forwarder: %v", rec)
		}
	}()
	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if msg, ok := toServerMessage(event); ok {
				writeServerMessage(sc, msg)
			}
		}
	}
}

func toServerMessage(event events.CollaborationEvent) (wire.ServerMessage, bool) {
	base := wire.ServerMessage{DocumentID: event.DocumentID, Timestamp: event.Timestamp.Unix()}
	switch event.Type {
	case events.EventUserJoined:
		base.Kind = wire.KindUserJoined
		base.UserJoined = wire.UserJoinedPayload{
			UserID:       event.UserID,
			UserName:     event.UserName,
			UserColor:    event.UserColor,
			ClientID:     event.ClientID,
			UserMetadata: event.UserMetadata,
		}
	case events.EventUserLeft, events.EventSessionExpired:
		base.Kind = wire.KindUserLeft
		base.UserLeft = wire.UserLeftPayload{UserID: event.UserID, ClientID: event.ClientID}
	case events.EventDocumentUpdated:
		base.Kind = wire.KindServerUpdateMessage
		base.UpdateMessage = wire.UpdateMessagePayload{
			UpdateData:     event.UpdateBytes,
			OriginClientID: event.OriginClientID,
			SequenceNumber: event.SequenceNumber,
		}
	case events.EventAwarenessUpdated:
		base.Kind = wire.KindServerAwarenessUpdate
		base.AwarenessUpdate = wire.AwarenessUpdatePayload{
			ClientID:       event.ClientID,
			UserInfo:       event.UserInfoJSON,
			AwarenessState: event.AwarenessStateJSON,
			Timestamp:      event.Timestamp.Unix(),
		}
	default:
		return wire.ServerMessage{}, false
	}
	return base, true
}

func (a *Adapter) serveDocumentState(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]
	state, err := a.UseCases.GetDocumentState(documentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	activeUsers := make([]wire.ActiveUser, 0, len(state.Sessions))
	for _, s := range state.Sessions {
		activeUsers = append(activeUsers, wire.ActiveUser{ClientID: s.ClientID, UserID: s.UserID, UserName: s.UserName, UserColor: s.UserColor})
	}
	msg := wire.ServerMessage{
		DocumentID: documentID,
		Timestamp:  time.Now().Unix(),
		Kind:       wire.KindDocumentState,
		DocumentState: wire.DocumentStatePayload{
			StateVector:  state.StateVector,
			DocumentData: state.FullDocument,
			ActiveUsers:  activeUsers,
			LastModified: time.Now().Unix(),
		},
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(wire.EncodeServerMessage(msg))
}

func (a *Adapter) serveActiveUsers(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]
	sessions := a.UseCases.GetActiveUsers(documentID)
	activeUsers := make([]wire.ActiveUser, 0, len(sessions))
	for _, s := range sessions {
		activeUsers = append(activeUsers, wire.ActiveUser{ClientID: s.ClientID, UserID: s.UserID, UserName: s.UserName, UserColor: s.UserColor})
	}
	msg := wire.ServerMessage{
		DocumentID: documentID,
		Timestamp:  time.Now().Unix(),
		Kind:       wire.KindDocumentState,
		DocumentState: wire.DocumentStatePayload{
			ActiveUsers: activeUsers,
		},
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(wire.EncodeServerMessage(msg))
}

func sendError(sc *safeConn, documentID string, code int32, errType wire.ErrorType, message string) {
	writeServerMessage(sc, wire.ServerMessage{
		DocumentID: documentID,
		Timestamp:  time.Now().Unix(),
		Kind:       wire.KindErrorMessage,
		ErrorMessage: wire.ErrorMessagePayload{
			ErrorCode:    code,
			ErrorMessage: message,
			ErrorType:    errType,
		},
	})
}

func writeServerMessage(sc *safeConn, msg wire.ServerMessage) {
	if err := sc.writeMessage(websocket.BinaryMessage, wire.EncodeServerMessage(msg)); err != nil {
		log.Printf("binaryrpc: write failed: %v", err)
	}
}

func translateErrorType(err error) wire.ErrorType {
	switch err {
	case collab.ErrDocumentNotFound:
		return wire.ErrorDocumentNotFound
	case collab.ErrSessionNotFound:
		return wire.ErrorDocumentNotFound
	case collab.ErrInvalidUpdate:
		return wire.ErrorInvalidUpdate
	case collab.ErrDuplicateClient:
		return wire.ErrorConnection
	default:
		return wire.ErrorUnknown
	}
}
