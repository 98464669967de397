// Package moment defines the atomic unit of change in the editor.
//
// A Moment is an invertible batch of puts and deletes across the feature,
// folder, and layer-config collections. Applying a Moment to live state
// (see internal/state) simultaneously yields the inverse Moment: the prior
// value of everything touched, or a delete where no prior value existed.
// Applying a Moment and then its inverse is a no-op.
//
// Moments are session-local. Only their effects travel over the wire, as
// sync mutations; the undo/redo stacks built from them (Log) are never
// transmitted.
package moment

import "encoding/json"

// Feature is a map feature record. Geometry and Properties are opaque to
// the sync engine; only ID, FolderID, and At participate in its invariants.
type Feature struct {
	ID         string          `json:"id"`
	FolderID   string          `json:"folderId,omitempty"`
	At         string          `json:"at,omitempty"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Folder groups features and other folders. FolderID is the parent folder,
// empty at the root.
type Folder struct {
	ID        string `json:"id"`
	FolderID  string `json:"folderId,omitempty"`
	At        string `json:"at,omitempty"`
	Name      string `json:"name"`
	Expanded  bool   `json:"expanded,omitempty"`
	Locked    bool   `json:"locked,omitempty"`
	Visibility bool  `json:"visibility"`
}

// LayerConfig describes one base-layer entry. Layer configs have no parent
// folder; their At orders them among each other.
type LayerConfig struct {
	ID         string  `json:"id"`
	At         string  `json:"at,omitempty"`
	Name       string  `json:"name"`
	URL        string  `json:"url,omitempty"`
	Type       string  `json:"type"`
	Token      string  `json:"token,omitempty"`
	Opacity    float64 `json:"opacity"`
	TMS        bool    `json:"tms,omitempty"`
	Visibility bool    `json:"visibility"`
}

// Moment is an atomic batch of record mutations. Note labels the user-visible
// action ("Draw polygon"); Track, when set, names an analytics event for the
// action that produced it.
type Moment struct {
	Note  string `json:"note,omitempty"`
	Track string `json:"track,omitempty"`

	PutFeatures    []Feature `json:"putFeatures"`
	DeleteFeatures []string  `json:"deleteFeatures"`

	PutFolders    []Folder `json:"putFolders"`
	DeleteFolders []string `json:"deleteFolders"`

	PutLayerConfigs    []LayerConfig `json:"putLayerConfigs"`
	DeleteLayerConfigs []string      `json:"deleteLayerConfigs"`
}

// New returns an empty Moment labeled with note.
func New(note string) Moment {
	return Moment{
		Note:               note,
		PutFeatures:        []Feature{},
		DeleteFeatures:     []string{},
		PutFolders:         []Folder{},
		DeleteFolders:      []string{},
		PutLayerConfigs:    []LayerConfig{},
		DeleteLayerConfigs: []string{},
	}
}

// Normalize fills nil mutation lists with empty slices so callers may build
// partial Moments. Returns the receiver value for chaining.
func (m Moment) Normalize() Moment {
	if m.PutFeatures == nil {
		m.PutFeatures = []Feature{}
	}
	if m.DeleteFeatures == nil {
		m.DeleteFeatures = []string{}
	}
	if m.PutFolders == nil {
		m.PutFolders = []Folder{}
	}
	if m.DeleteFolders == nil {
		m.DeleteFolders = []string{}
	}
	if m.PutLayerConfigs == nil {
		m.PutLayerConfigs = []LayerConfig{}
	}
	if m.DeleteLayerConfigs == nil {
		m.DeleteLayerConfigs = []string{}
	}
	return m
}

// IsEmpty reports whether every mutation list is empty. Empty Moments are
// discarded rather than pushed onto the undo stack, so that idempotent
// round trips (undoing something a race already undid) do not pollute it.
func (m Moment) IsEmpty() bool {
	return len(m.PutFeatures) == 0 &&
		len(m.DeleteFeatures) == 0 &&
		len(m.PutFolders) == 0 &&
		len(m.DeleteFolders) == 0 &&
		len(m.PutLayerConfigs) == 0 &&
		len(m.DeleteLayerConfigs) == 0
}

// Merge combines moments into one, concatenating notes and unioning the
// mutation lists in argument order. A single user-visible action ("Resize
// circle") may internally perform several sub-edits that must undo as one
// unit; merging their Moments keeps the undo stack one entry per action.
func Merge(moments ...Moment) Moment {
	out := New("")
	for _, m := range moments {
		if m.Note != "" {
			if out.Note != "" {
				out.Note += ", "
			}
			out.Note += m.Note
		}
		if m.Track != "" {
			if out.Track != "" {
				out.Track += ", "
			}
			out.Track += m.Track
		}
		out.PutFeatures = append(out.PutFeatures, m.PutFeatures...)
		out.DeleteFeatures = append(out.DeleteFeatures, m.DeleteFeatures...)
		out.PutFolders = append(out.PutFolders, m.PutFolders...)
		out.DeleteFolders = append(out.DeleteFolders, m.DeleteFolders...)
		out.PutLayerConfigs = append(out.PutLayerConfigs, m.PutLayerConfigs...)
		out.DeleteLayerConfigs = append(out.DeleteLayerConfigs, m.DeleteLayerConfigs...)
	}
	return out
}
