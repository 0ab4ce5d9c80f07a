// Package jsonsock is the JSON streaming adapter (C7, spec.md §4.7): a
// three-message-type protocol over a websocket text-frame duplex,
// following the teacher's readPump/writePump split (sumanthd032-CollabText
// /agent's Client) generalized from its one-shot Op broadcast to a full
// sync/update/sv exchange against the use-case façade.
package jsonsock

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabhub/internal/broadcast"
	"collabhub/internal/collab"
	"collabhub/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// safeConn serializes writes across the read loop and the event forwarder
// goroutine; gorilla/websocket permits only one writer at a time on a
// connection.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// frame is the wire shape shared by all three JSON message types; unused
// fields are simply omitted by json's zero-value handling.
type frame struct {
	Type        string `json:"type"`
	DocID       string `json:"doc_id"`
	StateVector string `json:"state_vector,omitempty"`
	Update      string `json:"update,omitempty"`
}

// defaultUserColor is assigned to every synthetic join; the JSON protocol
// carries no color field of its own (spec.md §4.7).
const defaultUserColor = "#888888"

// Adapter is the JSON socket server.
type Adapter struct {
	UseCases *collab.UseCases
}

// Register mounts the adapter's websocket route on r.
func (a *Adapter) Register(r *mux.Router) {
	r.HandleFunc("/ws", a.serveWS)
}

func (a *Adapter) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("jsonsock: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("jsonsock: recovered panic in connection handler: %v", rec)
		}
	}()
	sc := &safeConn{conn: conn}

	clientID := uuid.NewString()
	documentID := r.URL.Query().Get("doc_id")
	if documentID == "" {
		documentID = "default"
	}

	if _, err := a.UseCases.JoinDocument(clientID, documentID, clientID, "anonymous", defaultUserColor, nil); err != nil {
		log.Printf("jsonsock: synthetic join failed: %v", err)
		return
	}

	sub := a.UseCases.Events.Subscribe(documentID, clientID)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go a.forward(sc, sub, documentID, done)

	a.readLoop(conn, sc, clientID)

	close(done)
	a.UseCases.LeaveDocument(clientID)
}

func (a *Adapter) readLoop(conn *websocket.Conn, sc *safeConn, clientID string) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "sync":
			a.handleSync(sc, clientID, f)
		case "update":
			a.handleUpdate(clientID, f)
		case "sv":
			a.handleStateVector(sc, clientID, f)
		default:
			log.Printf("jsonsock: unrecognized frame type %q", f.Type)
		}
	}
}

func (a *Adapter) handleSync(sc *safeConn, clientID string, f frame) {
	result, err := a.UseCases.GetSyncData(clientID, nil)
	if err != nil {
		log.Printf("jsonsock: sync failed: %v", err)
		return
	}
	writeFrame(sc, frame{Type: "sync", DocID: f.DocID, StateVector: base64.StdEncoding.EncodeToString(result.ServerStateVector)})

	state, err := a.UseCases.GetDocumentState(f.DocID)
	if err != nil {
		return
	}
	writeFrame(sc, frame{Type: "update", DocID: f.DocID, Update: base64.StdEncoding.EncodeToString(state.FullDocument)})
}

func (a *Adapter) handleUpdate(clientID string, f frame) {
	update, err := base64.StdEncoding.DecodeString(f.Update)
	if err != nil {
		log.Printf("jsonsock: bad base64 update: %v", err)
		return
	}
	if _, err := a.UseCases.HandleDocumentUpdate(clientID, update); err != nil {
		log.Printf("jsonsock: apply update failed: %v", err)
	}
}

func (a *Adapter) handleStateVector(sc *safeConn, clientID string, f frame) {
	sv, err := base64.StdEncoding.DecodeString(f.StateVector)
	if err != nil {
		log.Printf("jsonsock: bad base64 state vector: %v", err)
		return
	}
	result, err := a.UseCases.GetSyncData(clientID, sv)
	if err != nil {
		log.Printf("jsonsock: get_sync_data failed: %v", err)
		return
	}
	writeFrame(sc, frame{Type: "update", DocID: f.DocID, Update: base64.StdEncoding.EncodeToString(result.Diff)})
}

// forward relays broadcaster events as "update" frames, per spec.md §4.7's
// "all outgoing frames from event subscription are in the update form".
func (a *Adapter) forward(sc *safeConn, sub *broadcast.Subscription, documentID string, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("jsonsock: recovered panic in event forwarder: %v", rec)
		}
	}()
	for {
		select {
		case <-done:
			return
		case event := <-sub.Events():
			if event.Type != events.EventDocumentUpdated {
				continue
			}
			writeFrame(sc, frame{Type: "update", DocID: documentID, Update: base64.StdEncoding.EncodeToString(event.UpdateBytes)})
		}
	}
}

func writeFrame(sc *safeConn, f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Printf("jsonsock: marshal frame: %v", err)
		return
	}
	if err := sc.writeMessage(websocket.TextMessage, b); err != nil {
		log.Printf("jsonsock: write failed: %v", err)
	}
}
