package board

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/linkboard/internal/graph"
)

// Kind is the content kind of an item. The set is closed.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindLink  Kind = "link"
	KindPDF   Kind = "pdf"
)

// binaryFields maps each kind to the field names that hold large opaque
// payloads. These never appear in the metadata tier.
var binaryFields = map[Kind][]string{
	KindImage: {"src"},
	KindLink:  {"previewImage"},
	KindPDF:   {"data", "thumbnail"},
}

// BinaryFields returns the binary field names for a kind.
func BinaryFields(k Kind) []string {
	return binaryFields[k]
}

// IsBinaryField reports whether name is a binary field of kind k.
func IsBinaryField(k Kind, name string) bool {
	for _, f := range binaryFields[k] {
		if f == name {
			return true
		}
	}
	return false
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindText, KindImage, KindLink, KindPDF:
		return k, nil
	default:
		return "", fmt.Errorf("unknown item kind %q", s)
	}
}

// Default item box, used when an item carries no size.
const (
	DefaultWidth  = 240
	DefaultHeight = 160
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Item is one card on a board.
type Item struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"kind"`
	Position Position       `json:"position"`
	Size     Size           `json:"size"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Box returns the item's position and size, substituting the default size.
func (it Item) Box() (x, y, w, h float64) {
	w, h = it.Size.W, it.Size.H
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return it.Position.X, it.Position.Y, w, h
}

// StringField returns a string field, or "" when absent or not a string.
func (it Item) StringField(name string) string {
	s, _ := it.Fields[name].(string)
	return s
}

// Clone returns a copy whose field map can be mutated independently.
func (it Item) Clone() Item {
	out := it
	if it.Fields != nil {
		out.Fields = make(map[string]any, len(it.Fields))
		for k, v := range it.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// Board is one spatial board with its items and relationship graph.
type Board struct {
	ID            string             `json:"id" validate:"required"`
	Name          string             `json:"name"`
	Items         []Item             `json:"items"`
	Connections   []graph.Connection `json:"connections"`
	ItemIDCounter int                `json:"itemIdCounter" validate:"gte=0"`
	CreatedAt     int64              `json:"createdAt"`
	UpdatedAt     int64              `json:"updatedAt"`
}

// New creates an empty board with a fresh id.
func New(name string) *Board {
	now := time.Now().UnixMilli()
	if name == "" {
		name = "Untitled board"
	}
	return &Board{
		ID:          uuid.NewString(),
		Name:        name,
		Items:       []Item{},
		Connections: []graph.Connection{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Touch bumps UpdatedAt.
func (b *Board) Touch() {
	b.UpdatedAt = time.Now().UnixMilli()
}

// Clone deep-copies the board.
func (b *Board) Clone() *Board {
	out := *b
	out.Items = CloneItems(b.Items)
	out.Connections = append([]graph.Connection(nil), b.Connections...)
	return &out
}

// ItemIndex returns the index of the item with the given canonical id, or -1.
func (b *Board) ItemIndex(id string) int {
	id = graph.Canonicalize(id)
	for i := range b.Items {
		if b.Items[i].ID == id {
			return i
		}
	}
	return -1
}
