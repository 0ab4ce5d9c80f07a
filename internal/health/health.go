// Package health exposes the GET / status endpoint (spec.md §6), mounted
// on a gorilla/mux router the way the teacher mounts its websocket route.
package health

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts the health endpoint on r.
func Register(r *mux.Router) {
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "collabhub: ok")
	}).Methods(http.MethodGet)
}
