package repl

import (
	"github.com/placemark/mapsync/internal/state"
)

// SchemaVersion is the wire schema both sides must agree on. A mismatch is
// rejected before any mutation is examined.
const SchemaVersion = 1

// PushRequest submits ordered mutations from one client. All mutations
// must target the same map; mutation ids are the client's monotonic
// sequence starting at 1.
type PushRequest struct {
	ClientID      string     `json:"clientID"`
	SchemaVersion int        `json:"schemaVersion"`
	PushVersion   int        `json:"pushVersion"`
	Mutations     []Mutation `json:"mutations"`
}

// PushResponse is intentionally empty on success; the client learns its
// confirmed watermark from the next pull.
type PushResponse struct{}

// PullRequest asks for everything committed after Cookie. A nil Cookie
// marks a fresh client with no reliable prior state.
type PullRequest struct {
	ClientID       string `json:"clientID"`
	SchemaVersion  int    `json:"schemaVersion"`
	LastMutationID uint64 `json:"lastMutationID"`
	Cookie         *int64 `json:"cookie"`
}

// PullResponse carries the new cookie, the server's confirmed watermark
// for this client, and the patch reconstructing state since the request
// cookie. A fresh client's patch always begins with a clear op.
type PullResponse struct {
	Cookie         int64           `json:"cookie"`
	LastMutationID uint64          `json:"lastMutationID"`
	Patch          []state.PatchOp `json:"patch"`
}
