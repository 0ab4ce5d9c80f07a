package collab

import (
	"errors"

	"collabhub/internal/registry"
	"collabhub/internal/session"
)

// Error taxonomy per spec.md §7. Adapters translate these into wire-level
// error codes (binary adapter) or closed frames (JSON adapter); none of
// them are fatal to the server process. ErrDuplicateClient and
// ErrDocumentNotFound are defined by the packages that detect them
// (session, registry) and re-exported here so callers of this façade
// only ever need to import collab's error taxonomy.
var (
	ErrDuplicateClient  = session.ErrDuplicateClient
	ErrDocumentNotFound = registry.ErrDocumentNotFound
	ErrSessionNotFound  = errors.New("collab: no session for client id")
	ErrInvalidUpdate    = errors.New("collab: malformed update or state vector")
)
