// Package geometry lays out relationship edges between board items. Several
// connections between the same two items fan out as parallel cubic curves
// that never overlap, whichever direction each was recorded in.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/lazypower/linkboard/internal/graph"
)

const (
	// OffsetUnit is the spacing between parallel edges of one pair.
	OffsetUnit = 36.0

	minControl   = 60.0
	controlRatio = 0.4

	focusedOpacity   = 0.9
	unfocusedOpacity = 0.06
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) scale(k float64) Point { return Point{p.X * k, p.Y * k} }
func (p Point) dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }
func (p Point) String() string { return fmt.Sprintf("%.1f %.1f", p.X, p.Y) }

// Rect is an item's bounding box in board coordinates (y grows downward).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Center() Point {
	return Point{r.X + r.W/2, r.Y + r.H/2}
}

// Side is the edge of a box a connection leaves or enters through.
type Side int

const (
	Top Side = iota
	Right
	Bottom
	Left
)

func (s Side) String() string {
	return [...]string{"top", "right", "bottom", "left"}[s]
}

// Normal is the outward unit vector of the side.
func (s Side) Normal() Point {
	switch s {
	case Top:
		return Point{0, -1}
	case Right:
		return Point{1, 0}
	case Bottom:
		return Point{0, 1}
	default:
		return Point{-1, 0}
	}
}

// Anchor is an attachment point on a box side.
type Anchor struct {
	Point Point `json:"point"`
	Side  Side  `json:"-"`
}

func sideMidpoint(r Rect, s Side) Point {
	c := r.Center()
	switch s {
	case Top:
		return Point{c.X, r.Y}
	case Right:
		return Point{r.X + r.W, c.Y}
	case Bottom:
		return Point{c.X, r.Y + r.H}
	default:
		return Point{r.X, c.Y}
	}
}

// AnchorsBetween picks the facing sides of two boxes: left/right when they
// sit mostly side by side, top/bottom when mostly stacked.
func AnchorsBetween(from, to Rect) (Anchor, Anchor) {
	d := to.Center().sub(from.Center())
	var fs, ts Side
	if math.Abs(d.X) >= math.Abs(d.Y) {
		fs, ts = Right, Left
		if d.X < 0 {
			fs, ts = Left, Right
		}
	} else {
		fs, ts = Bottom, Top
		if d.Y < 0 {
			fs, ts = Top, Bottom
		}
	}
	return Anchor{sideMidpoint(from, fs), fs}, Anchor{sideMidpoint(to, ts), ts}
}

// PairKey identifies an unordered pair of items.
func PairKey(a, b string) string {
	a, b = graph.Canonicalize(a), graph.Canonicalize(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// OffsetIndices returns the offset of each of n parallel edges, in
// insertion order: position − (n−1)/2. The result is symmetric about zero.
func OffsetIndices(n int) []float64 {
	out := make([]float64, n)
	mid := float64(n-1) / 2
	for i := range out {
		out[i] = float64(i) - mid
	}
	return out
}

// Curve is a cubic Bézier segment.
type Curve struct {
	P0 Point `json:"p0"`
	C1 Point `json:"c1"`
	C2 Point `json:"c2"`
	P3 Point `json:"p3"`
}

// At evaluates the curve at t in [0,1].
func (c Curve) At(t float64) Point {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	d := 3 * u * t * t
	e := t * t * t
	return Point{
		a*c.P0.X + b*c.C1.X + d*c.C2.X + e*c.P3.X,
		a*c.P0.Y + b*c.C1.Y + d*c.C2.Y + e*c.P3.Y,
	}
}

// Path renders the curve as an SVG path.
func (c Curve) Path() string {
	return fmt.Sprintf("M %s C %s, %s, %s", c.P0, c.C1, c.C2, c.P3)
}

// perpendicular returns the unit normal of the straight line between the
// anchors, oriented by canonical id order so a→b and b→a agree.
func perpendicular(from, to Anchor, fromID, toID string) Point {
	d := to.Point.sub(from.Point)
	if graph.Canonicalize(fromID) > graph.Canonicalize(toID) {
		d = d.scale(-1)
	}
	n := math.Hypot(d.X, d.Y)
	if n == 0 {
		return Point{0, -1}
	}
	return Point{-d.Y / n, d.X / n}
}

// EdgeCurve builds the curve for one edge with the given offset index.
func EdgeCurve(from, to Anchor, offset float64, fromID, toID string) Curve {
	disp := perpendicular(from, to, fromID, toID).scale(offset * OffsetUnit)
	reach := math.Max(minControl, controlRatio*from.Point.dist(to.Point))
	return Curve{
		P0: from.Point,
		C1: from.Point.add(from.Side.Normal().scale(reach)).add(disp),
		C2: to.Point.add(to.Side.Normal().scale(reach)).add(disp),
		P3: to.Point,
	}
}

// Edge is one laid-out connection.
type Edge struct {
	Connection graph.Connection `json:"connection"`
	Pair       string           `json:"pair"`
	Offset     float64          `json:"offset"`
	Curve      Curve            `json:"curve"`
	Path       string           `json:"path"`
	Label      Point            `json:"label"`
	Opacity    float64          `json:"opacity"`
	ShowLabel  bool             `json:"showLabel"`
}

// Resolver returns the bounding box of an item, or false if it no longer
// exists.
type Resolver func(id string) (Rect, bool)

// Layout lays out every connection whose endpoints both resolve, in input
// order. Connections are grouped by pair across all layers; focus only
// changes appearance. An empty focus shows every layer.
func Layout(conns []graph.Connection, resolve Resolver, focus graph.Layer) []Edge {
	type placed struct {
		conn     graph.Connection
		from, to Rect
		pair     string
	}

	var visible []placed
	groups := map[string][]int{}
	for _, c := range conns {
		from, to := graph.Canonicalize(c.From), graph.Canonicalize(c.To)
		if from == to {
			continue
		}
		fr, ok := resolve(from)
		if !ok {
			continue
		}
		tr, ok := resolve(to)
		if !ok {
			continue
		}
		key := PairKey(from, to)
		groups[key] = append(groups[key], len(visible))
		visible = append(visible, placed{conn: c, from: fr, to: tr, pair: key})
	}

	offsets := make([]float64, len(visible))
	for _, idx := range groups {
		for pos, off := range OffsetIndices(len(idx)) {
			offsets[idx[pos]] = off
		}
	}

	edges := make([]Edge, 0, len(visible))
	for i, p := range visible {
		fa, ta := AnchorsBetween(p.from, p.to)
		curve := EdgeCurve(fa, ta, offsets[i], p.conn.From, p.conn.To)
		focused := focus == "" || strings.EqualFold(string(p.conn.Layer), string(focus))
		e := Edge{
			Connection: p.conn,
			Pair:       p.pair,
			Offset:     offsets[i],
			Curve:      curve,
			Path:       curve.Path(),
			Label:      curve.At(0.5),
			Opacity:    unfocusedOpacity,
		}
		if focused {
			e.Opacity = focusedOpacity
			e.ShowLabel = true
		}
		edges = append(edges, e)
	}
	return edges
}
