package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/placemark/mapsync/internal/moment"
)

// Patch op kinds. A pull response's patch is a sequence of these.
const (
	OpPut   = "put"
	OpDel   = "del"
	OpClear = "clear"
)

// Key prefixes routing patch entries to their collection.
const (
	KeyPrefixFeature     = "feature/"
	KeyPrefixFolder      = "folder/"
	KeyPrefixLayerConfig = "layerConfig/"
	KeyPrefixPresence    = "presence/"
)

// PatchOp is one entry of a pull patch. Op is OpPut, OpDel, or OpClear;
// Key and Value are set for puts, Key alone for dels.
type PatchOp struct {
	Op    string          `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// FeatureKey returns the patch key for a feature id.
func FeatureKey(id string) string { return KeyPrefixFeature + id }

// FolderKey returns the patch key for a folder id.
func FolderKey(id string) string { return KeyPrefixFolder + id }

// LayerConfigKey returns the patch key for a layer config id.
func LayerConfigKey(id string) string { return KeyPrefixLayerConfig + id }

// PresenceKey returns the patch key for a client's presence.
func PresenceKey(clientID string) string { return KeyPrefixPresence + clientID }

// ApplyPatch folds a server-confirmed patch into the live collections.
//
// Puts upsert into the collection named by the key prefix, dels remove by
// key, and clear discards everything local (a fresh client has no reliable
// prior state). Selection is repaired whenever the selected feature was
// removed. The sorted views are marked dirty only when a put changed an at
// value or a record appeared or disappeared, so edits to unrelated fields
// never trigger a re-sort.
func (s *Store) ApplyPatch(ops []PatchOp) error {
	s.mu.Lock()
	for _, op := range ops {
		switch op.Op {
		case OpClear:
			s.clearLocked()
		case OpPut:
			if err := s.applyPutLocked(op.Key, op.Value); err != nil {
				s.mu.Unlock()
				return err
			}
		case OpDel:
			s.applyDelLocked(op.Key)
		default:
			s.mu.Unlock()
			return fmt.Errorf("state: unknown patch op %q", op.Op)
		}
	}
	s.repairSelectionLocked()
	s.mu.Unlock()

	if len(ops) > 0 {
		s.notify()
	}
	return nil
}

func (s *Store) clearLocked() {
	for id := range s.features {
		s.ids.DeleteUUID(id)
	}
	for id := range s.folders {
		s.ids.DeleteUUID(id)
	}
	s.features = make(map[string]moment.Feature)
	s.folders = make(map[string]moment.Folder)
	s.layerConfigs = make(map[string]moment.LayerConfig)
	s.presence = make(map[string]Presence)
	s.sortDirty = true
}

func (s *Store) applyPutLocked(key string, value json.RawMessage) error {
	switch {
	case strings.HasPrefix(key, KeyPrefixFeature):
		var f moment.Feature
		if err := json.Unmarshal(value, &f); err != nil {
			return fmt.Errorf("state: decode feature patch %q: %w", key, err)
		}
		prev, had := s.features[f.ID]
		if !had || prev.At != f.At || prev.FolderID != f.FolderID {
			s.sortDirty = true
		}
		s.features[f.ID] = f
		s.ids.PushUUID(f.ID)
	case strings.HasPrefix(key, KeyPrefixFolder):
		var f moment.Folder
		if err := json.Unmarshal(value, &f); err != nil {
			return fmt.Errorf("state: decode folder patch %q: %w", key, err)
		}
		prev, had := s.folders[f.ID]
		if !had || prev.At != f.At || prev.FolderID != f.FolderID {
			s.sortDirty = true
		}
		s.folders[f.ID] = f
		s.ids.PushUUID(f.ID)
	case strings.HasPrefix(key, KeyPrefixLayerConfig):
		var l moment.LayerConfig
		if err := json.Unmarshal(value, &l); err != nil {
			return fmt.Errorf("state: decode layer config patch %q: %w", key, err)
		}
		s.layerConfigs[l.ID] = l
	case strings.HasPrefix(key, KeyPrefixPresence):
		var p Presence
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("state: decode presence patch %q: %w", key, err)
		}
		s.presence[p.ClientID] = p
	default:
		return fmt.Errorf("state: patch key %q has unknown prefix", key)
	}
	return nil
}

func (s *Store) applyDelLocked(key string) {
	switch {
	case strings.HasPrefix(key, KeyPrefixFeature):
		id := strings.TrimPrefix(key, KeyPrefixFeature)
		if _, ok := s.features[id]; ok {
			delete(s.features, id)
			s.ids.DeleteUUID(id)
			s.sortDirty = true
		}
	case strings.HasPrefix(key, KeyPrefixFolder):
		id := strings.TrimPrefix(key, KeyPrefixFolder)
		if _, ok := s.folders[id]; ok {
			delete(s.folders, id)
			s.ids.DeleteUUID(id)
			s.sortDirty = true
		}
	case strings.HasPrefix(key, KeyPrefixLayerConfig):
		delete(s.layerConfigs, strings.TrimPrefix(key, KeyPrefixLayerConfig))
	case strings.HasPrefix(key, KeyPrefixPresence):
		delete(s.presence, strings.TrimPrefix(key, KeyPrefixPresence))
	}
}
