package board

import "sort"

// SchemaVersion is the current registry record version.
const SchemaVersion = 1

// State is the board registry: every board plus the active pointer.
type State struct {
	SchemaVersion int               `json:"schemaVersion" validate:"required,gte=1"`
	ActiveBoardID string            `json:"activeBoardId" validate:"required"`
	Boards        map[string]*Board `json:"boards" validate:"required,min=1,dive,required"`
}

// NewState returns a registry holding one empty, active board.
func NewState() *State {
	b := New("")
	return &State{
		SchemaVersion: SchemaVersion,
		ActiveBoardID: b.ID,
		Boards:        map[string]*Board{b.ID: b},
	}
}

// Active returns the active board.
func (s *State) Active() *Board {
	return s.Boards[s.ActiveBoardID]
}

// Clone deep-copies the registry.
func (s *State) Clone() *State {
	out := &State{
		SchemaVersion: s.SchemaVersion,
		ActiveBoardID: s.ActiveBoardID,
		Boards:        make(map[string]*Board, len(s.Boards)),
	}
	for id, b := range s.Boards {
		out.Boards[id] = b.Clone()
	}
	return out
}

// Summary is a lightweight listing entry for a board.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Items       int    `json:"items"`
	Connections int    `json:"connections"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Summaries lists boards, most recently updated first.
func (s *State) Summaries() []Summary {
	out := make([]Summary, 0, len(s.Boards))
	for _, b := range s.Boards {
		out = append(out, Summary{
			ID:          b.ID,
			Name:        b.Name,
			Items:       len(b.Items),
			Connections: len(b.Connections),
			Active:      b.ID == s.ActiveBoardID,
			CreatedAt:   b.CreatedAt,
			UpdatedAt:   b.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
