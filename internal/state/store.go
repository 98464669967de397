// Package state holds the client's live, optimistically-updated collections.
//
// A Store is the single mutable copy of the map a session edits: feature,
// folder, and layer-config records keyed by id, plus ephemeral presence and
// the current selection. All mutation flows through Apply (Moment
// application, producing the inverse for the undo stack) or ApplyPatch
// (folding server-confirmed pull patches back in). The render layer reads
// the sorted views and addresses records through the attached id map.
//
// No ambient singletons: every session constructs its own Store, which is
// what makes the persistence implementations testable with a fresh store
// per test.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/placemark/mapsync/internal/idmap"
	"github.com/placemark/mapsync/internal/moment"
)

// Metadata holds out-of-band document properties that live outside the
// Moment-tracked collections: they are not undoable and not part of any
// push transaction.
type Metadata struct {
	Label         string          `json:"label"`
	Description   string          `json:"description,omitempty"`
	Symbolization json.RawMessage `json:"symbolization,omitempty"`
}

// Presence is the ephemeral cursor/viewport broadcast for one client.
// Presence is best-effort: never undo-tracked and never part of Moment
// application.
type Presence struct {
	ClientID        string  `json:"clientId"`
	UserName        string  `json:"userName,omitempty"`
	CursorLongitude float64 `json:"cursorLongitude"`
	CursorLatitude  float64 `json:"cursorLatitude"`
	Minx            float64 `json:"minx"`
	Miny            float64 `json:"miny"`
	Maxx            float64 `json:"maxx"`
	Maxy            float64 `json:"maxy"`
}

// Subscription is a handle for a registered watch callback.
type Subscription struct {
	store *Store
	id    int
}

// Unsubscribe deregisters the callback. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.watchers, s.id)
}

// Store is the in-memory collection set for one editing session.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks
// registered with Watch run synchronously after the mutation that
// triggered them, in registration order, outside the store lock.
type Store struct {
	mu sync.Mutex

	features     map[string]moment.Feature
	folders      map[string]moment.Folder
	layerConfigs map[string]moment.LayerConfig
	presence     map[string]Presence

	ids *idmap.Map

	selection string

	// sortDirty is set when a put changed an at value or a record was
	// added or removed; sorted views rebuild only then.
	sortDirty      bool
	sortedFeatures map[string][]string // folder id -> feature ids in at order

	watchers  map[int]func()
	nextWatch int
}

// NewStore creates an empty Store with a fresh id map.
func NewStore() *Store {
	return &Store{
		features:       make(map[string]moment.Feature),
		folders:        make(map[string]moment.Folder),
		layerConfigs:   make(map[string]moment.LayerConfig),
		presence:       make(map[string]Presence),
		ids:            idmap.New(),
		sortedFeatures: make(map[string][]string),
		watchers:       make(map[int]func()),
	}
}

// IDs returns the session id map shared with the render engine.
func (s *Store) IDs() *idmap.Map {
	return s.ids
}

// Watch registers fn to run after every applied mutation or patch.
func (s *Store) Watch(fn func()) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWatch++
	s.watchers[s.nextWatch] = fn
	return &Subscription{store: s, id: s.nextWatch}
}

// notify runs watch callbacks in registration order. Must be called
// without the store lock held.
func (s *Store) notify() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Feature returns the feature with the given id.
func (s *Store) Feature(id string) (moment.Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[id]
	return f, ok
}

// Folder returns the folder with the given id.
func (s *Store) Folder(id string) (moment.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	return f, ok
}

// LayerConfig returns the layer config with the given id.
func (s *Store) LayerConfig(id string) (moment.LayerConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layerConfigs[id]
	return l, ok
}

// FeatureCount returns the number of live features.
func (s *Store) FeatureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.features)
}

// Presences returns a snapshot of all known presences.
func (s *Store) Presences() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Presence, 0, len(s.presence))
	for _, p := range s.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// PutPresence records a presence broadcast locally.
func (s *Store) PutPresence(p Presence) {
	s.mu.Lock()
	s.presence[p.ClientID] = p
	s.mu.Unlock()
	s.notify()
}

// Selection returns the currently selected feature id, empty for none.
func (s *Store) Selection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Select sets the current selection target. Selecting an id not present in
// the feature collection is an error; selection must never dangle.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.features[id]; !ok {
			return fmt.Errorf("state: cannot select unknown feature %q", id)
		}
	}
	s.selection = id
	return nil
}

// FeaturesInFolder returns the live features whose FolderID equals
// folderID (empty string for the root), in at order. The per-folder order
// is cached and only rebuilt after a mutation that touched membership or
// an at value.
func (s *Store) FeaturesInFolder(folderID string) []moment.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildSortLocked()
	ids := s.sortedFeatures[folderID]
	out := make([]moment.Feature, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.features[id])
	}
	return out
}

// FoldersInFolder returns the live folders under folderID in at order.
func (s *Store) FoldersInFolder(folderID string) []moment.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []moment.Folder{}
	for _, f := range s.folders {
		if f.FolderID == folderID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// SortedLayerConfigs returns all layer configs in at order.
func (s *Store) SortedLayerConfigs() []moment.LayerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]moment.LayerConfig, 0, len(s.layerConfigs))
	for _, l := range s.layerConfigs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// rebuildSortLocked recomputes the per-folder feature order if dirty.
func (s *Store) rebuildSortLocked() {
	if !s.sortDirty && s.sortedFeatures != nil {
		return
	}
	byFolder := make(map[string][]string)
	for id, f := range s.features {
		byFolder[f.FolderID] = append(byFolder[f.FolderID], id)
	}
	for folderID, ids := range byFolder {
		sort.Slice(ids, func(i, j int) bool {
			return s.features[ids[i]].At < s.features[ids[j]].At
		})
		byFolder[folderID] = ids
	}
	s.sortedFeatures = byFolder
	s.sortDirty = false
}

// repairSelectionLocked degrades the selection to none when its target
// feature no longer exists, so the UI never holds a dangling id.
func (s *Store) repairSelectionLocked() {
	if s.selection == "" {
		return
	}
	if _, ok := s.features[s.selection]; !ok {
		s.selection = ""
	}
}
