// Package repl implements the client side of the push/pull replication
// protocol, plus the wire types shared with the server.
//
// A mutation is the unit of submission: a named operation with typed
// arguments, numbered by a per-client monotonically increasing sequence
// starting at 1. The server applies each client's mutations exactly once,
// in order, tracking the highest applied id per client; retries and
// out-of-order arrivals are therefore safe by construction.
package repl

import (
	"encoding/json"
	"fmt"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/state"
)

// Name identifies a mutation kind.
type Name string

// The full set of mutation kinds. Every kind's args carry the target map
// id; a push whose mutations span more than one map is rejected whole.
const (
	NamePutFeatures        Name = "putFeatures"
	NameDeleteFeatures     Name = "deleteFeatures"
	NamePutFolders         Name = "putFolders"
	NameDeleteFolders      Name = "deleteFolders"
	NamePutLayerConfigs    Name = "putLayerConfigs"
	NameDeleteLayerConfigs Name = "deleteLayerConfigs"
	NamePutPresence        Name = "putPresence"
)

// Mutation is the wire form of one operation. ID is assigned when the
// mutation is enqueued for push, never by the caller that built it.
type Mutation struct {
	ID   uint64          `json:"id"`
	Name Name            `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Args is the decoded argument payload of a mutation. Exactly one concrete
// type exists per Name; DecodeArgs dispatches exhaustively so an unhandled
// kind cannot slip through either side of the wire.
type Args interface {
	// Map returns the target map id.
	Map() string
	isArgs()
}

// PutFeaturesArgs upserts feature records.
type PutFeaturesArgs struct {
	MapID    string           `json:"mapId"`
	Features []moment.Feature `json:"features"`
}

// DeleteFeaturesArgs tombstones feature records by id.
type DeleteFeaturesArgs struct {
	MapID string   `json:"mapId"`
	IDs   []string `json:"ids"`
}

// PutFoldersArgs upserts folder records.
type PutFoldersArgs struct {
	MapID   string          `json:"mapId"`
	Folders []moment.Folder `json:"folders"`
}

// DeleteFoldersArgs tombstones folder records by id.
type DeleteFoldersArgs struct {
	MapID string   `json:"mapId"`
	IDs   []string `json:"ids"`
}

// PutLayerConfigsArgs upserts layer config records.
type PutLayerConfigsArgs struct {
	MapID        string               `json:"mapId"`
	LayerConfigs []moment.LayerConfig `json:"layerConfigs"`
}

// DeleteLayerConfigsArgs tombstones layer config records by id.
type DeleteLayerConfigsArgs struct {
	MapID string   `json:"mapId"`
	IDs   []string `json:"ids"`
}

// PutPresenceArgs broadcasts a client's cursor/viewport. Best-effort:
// presence is never undo-tracked and losing one is harmless.
type PutPresenceArgs struct {
	MapID    string         `json:"mapId"`
	Presence state.Presence `json:"presence"`
}

func (a PutFeaturesArgs) Map() string        { return a.MapID }
func (a DeleteFeaturesArgs) Map() string     { return a.MapID }
func (a PutFoldersArgs) Map() string         { return a.MapID }
func (a DeleteFoldersArgs) Map() string      { return a.MapID }
func (a PutLayerConfigsArgs) Map() string    { return a.MapID }
func (a DeleteLayerConfigsArgs) Map() string { return a.MapID }
func (a PutPresenceArgs) Map() string        { return a.MapID }

func (PutFeaturesArgs) isArgs()        {}
func (DeleteFeaturesArgs) isArgs()     {}
func (PutFoldersArgs) isArgs()         {}
func (DeleteFoldersArgs) isArgs()      {}
func (PutLayerConfigsArgs) isArgs()    {}
func (DeleteLayerConfigsArgs) isArgs() {}
func (PutPresenceArgs) isArgs()        {}

// NewMutation builds an unnumbered Mutation from typed args.
func NewMutation(name Name, args Args) (Mutation, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Mutation{}, fmt.Errorf("repl: encode %s args: %w", name, err)
	}
	return Mutation{Name: name, Args: raw}, nil
}

// DecodeArgs decodes a mutation's raw args into its concrete type.
// Returns an error for unknown names; the server maps that to the
// UNKNOWN_MUTATION failure rather than guessing.
func DecodeArgs(m Mutation) (Args, error) {
	switch m.Name {
	case NamePutFeatures:
		var a PutFeaturesArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NameDeleteFeatures:
		var a DeleteFeaturesArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NamePutFolders:
		var a PutFoldersArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NameDeleteFolders:
		var a DeleteFoldersArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NamePutLayerConfigs:
		var a PutLayerConfigsArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NameDeleteLayerConfigs:
		var a DeleteLayerConfigsArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	case NamePutPresence:
		var a PutPresenceArgs
		if err := json.Unmarshal(m.Args, &a); err != nil {
			return nil, fmt.Errorf("repl: decode %s args: %w", m.Name, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("repl: unknown mutation name %q", m.Name)
	}
}

// MutationsFromMoment converts an applied Moment into the wire mutations
// that reproduce its effects on the server, in a fixed order: deletes
// first, then puts, matching local application order.
func MutationsFromMoment(mapID string, m moment.Moment) ([]Mutation, error) {
	var out []Mutation
	add := func(name Name, args Args) error {
		mut, err := NewMutation(name, args)
		if err != nil {
			return err
		}
		out = append(out, mut)
		return nil
	}
	if len(m.DeleteFeatures) > 0 {
		if err := add(NameDeleteFeatures, DeleteFeaturesArgs{MapID: mapID, IDs: m.DeleteFeatures}); err != nil {
			return nil, err
		}
	}
	if len(m.DeleteFolders) > 0 {
		if err := add(NameDeleteFolders, DeleteFoldersArgs{MapID: mapID, IDs: m.DeleteFolders}); err != nil {
			return nil, err
		}
	}
	if len(m.DeleteLayerConfigs) > 0 {
		if err := add(NameDeleteLayerConfigs, DeleteLayerConfigsArgs{MapID: mapID, IDs: m.DeleteLayerConfigs}); err != nil {
			return nil, err
		}
	}
	if len(m.PutFeatures) > 0 {
		if err := add(NamePutFeatures, PutFeaturesArgs{MapID: mapID, Features: m.PutFeatures}); err != nil {
			return nil, err
		}
	}
	if len(m.PutFolders) > 0 {
		if err := add(NamePutFolders, PutFoldersArgs{MapID: mapID, Folders: m.PutFolders}); err != nil {
			return nil, err
		}
	}
	if len(m.PutLayerConfigs) > 0 {
		if err := add(NamePutLayerConfigs, PutLayerConfigsArgs{MapID: mapID, LayerConfigs: m.PutLayerConfigs}); err != nil {
			return nil, err
		}
	}
	return out, nil
}
