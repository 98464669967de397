package state

import (
	"fmt"

	"github.com/placemark/mapsync/internal/moment"
	"github.com/placemark/mapsync/internal/order"
)

// Apply folds m into the live collections. It returns the applied Moment —
// m with every put carrying the at value actually written, which is what a
// replicated session must submit to the server — and the inverse Moment:
// the prior value of every record m touched, or a delete where the record
// did not previously exist. Applying m and then its inverse leaves the
// collections exactly as they were.
//
// Deletes are processed before puts. A put lacking an at is minted one
// after the current maximum for its parent; a put whose at collides with a
// live sibling is re-minted just below the current minimum, placing the
// record first rather than silently violating uniqueness.
func (s *Store) Apply(m moment.Moment) (applied, inverse moment.Moment, err error) {
	m = m.Normalize()
	s.mu.Lock()
	applied = moment.New(m.Note)
	applied.Track = m.Track
	applied.DeleteFeatures = append(applied.DeleteFeatures, m.DeleteFeatures...)
	applied.DeleteFolders = append(applied.DeleteFolders, m.DeleteFolders...)
	applied.DeleteLayerConfigs = append(applied.DeleteLayerConfigs, m.DeleteLayerConfigs...)
	inverse = moment.New(m.Note)

	for _, id := range m.DeleteFeatures {
		if prev, ok := s.features[id]; ok {
			inverse.PutFeatures = append(inverse.PutFeatures, prev)
			delete(s.features, id)
			s.ids.DeleteUUID(id)
			s.sortDirty = true
		}
	}
	for _, id := range m.DeleteFolders {
		if prev, ok := s.folders[id]; ok {
			inverse.PutFolders = append(inverse.PutFolders, prev)
			delete(s.folders, id)
			s.ids.DeleteUUID(id)
			s.sortDirty = true
		}
	}
	for _, id := range m.DeleteLayerConfigs {
		if prev, ok := s.layerConfigs[id]; ok {
			inverse.PutLayerConfigs = append(inverse.PutLayerConfigs, prev)
			delete(s.layerConfigs, id)
		}
	}

	for _, f := range m.PutFeatures {
		prev, had := s.features[f.ID]
		if had {
			inverse.PutFeatures = append(inverse.PutFeatures, prev)
		} else {
			inverse.DeleteFeatures = append(inverse.DeleteFeatures, f.ID)
		}
		at, err := s.resolveAtLocked(f.At, s.featureSiblingAtsLocked(f.FolderID, f.ID))
		if err != nil {
			s.mu.Unlock()
			return moment.Moment{}, moment.Moment{}, fmt.Errorf("apply put feature %s: %w", f.ID, err)
		}
		f.At = at
		if !had || prev.At != f.At || prev.FolderID != f.FolderID {
			s.sortDirty = true
		}
		s.features[f.ID] = f
		s.ids.PushUUID(f.ID)
		applied.PutFeatures = append(applied.PutFeatures, f)
	}
	for _, f := range m.PutFolders {
		prev, had := s.folders[f.ID]
		if had {
			inverse.PutFolders = append(inverse.PutFolders, prev)
		} else {
			inverse.DeleteFolders = append(inverse.DeleteFolders, f.ID)
		}
		at, err := s.resolveAtLocked(f.At, s.folderSiblingAtsLocked(f.FolderID, f.ID))
		if err != nil {
			s.mu.Unlock()
			return moment.Moment{}, moment.Moment{}, fmt.Errorf("apply put folder %s: %w", f.ID, err)
		}
		f.At = at
		if !had || prev.At != f.At || prev.FolderID != f.FolderID {
			s.sortDirty = true
		}
		s.folders[f.ID] = f
		s.ids.PushUUID(f.ID)
		applied.PutFolders = append(applied.PutFolders, f)
	}
	for _, l := range m.PutLayerConfigs {
		prev, had := s.layerConfigs[l.ID]
		if had {
			inverse.PutLayerConfigs = append(inverse.PutLayerConfigs, prev)
		} else {
			inverse.DeleteLayerConfigs = append(inverse.DeleteLayerConfigs, l.ID)
		}
		at, err := s.resolveAtLocked(l.At, s.layerConfigSiblingAtsLocked(l.ID))
		if err != nil {
			s.mu.Unlock()
			return moment.Moment{}, moment.Moment{}, fmt.Errorf("apply put layer config %s: %w", l.ID, err)
		}
		l.At = at
		s.layerConfigs[l.ID] = l
		applied.PutLayerConfigs = append(applied.PutLayerConfigs, l)
	}

	s.repairSelectionLocked()
	changed := !m.IsEmpty()
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return applied, inverse, nil
}

// resolveAtLocked returns the at value a put should carry given its
// siblings' live keys: the caller's key when it is fresh, a key after the
// current maximum when none was supplied, or a key below the current
// minimum on collision.
func (s *Store) resolveAtLocked(at string, siblings []string) (string, error) {
	if at == "" {
		max := ""
		for _, sib := range siblings {
			if sib > max {
				max = sib
			}
		}
		return order.GenerateKeyBetween(max, "")
	}
	for _, sib := range siblings {
		if sib == at {
			return order.KeyBelowAll(siblings)
		}
	}
	return at, nil
}

// featureSiblingAtsLocked returns the at keys of live features sharing
// folderID, excluding the record being written.
func (s *Store) featureSiblingAtsLocked(folderID, selfID string) []string {
	var ats []string
	for id, f := range s.features {
		if id != selfID && f.FolderID == folderID {
			ats = append(ats, f.At)
		}
	}
	return ats
}

func (s *Store) folderSiblingAtsLocked(folderID, selfID string) []string {
	var ats []string
	for id, f := range s.folders {
		if id != selfID && f.FolderID == folderID {
			ats = append(ats, f.At)
		}
	}
	return ats
}

func (s *Store) layerConfigSiblingAtsLocked(selfID string) []string {
	var ats []string
	for id, l := range s.layerConfigs {
		if id != selfID {
			ats = append(ats, l.At)
		}
	}
	return ats
}

// DeleteFolderMoment builds the Moment that deletes folderID, every folder
// transitively under it, and every feature whose folder resolves into that
// subtree. The caller applies the returned Moment like any other edit, so
// the cascade undoes as one unit.
func (s *Store) DeleteFolderMoment(folderID string) moment.Moment {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtree := map[string]bool{folderID: true}
	// Folders form a tree through FolderID; expand until fixpoint.
	for {
		grew := false
		for id, f := range s.folders {
			if !subtree[id] && subtree[f.FolderID] {
				subtree[id] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	m := moment.New("Delete folder")
	for id := range s.folders {
		if subtree[id] {
			m.DeleteFolders = append(m.DeleteFolders, id)
		}
	}
	for id, f := range s.features {
		if subtree[f.FolderID] {
			m.DeleteFeatures = append(m.DeleteFeatures, id)
		}
	}
	return m
}
