package models

// Position is a node's location in layout space. It is unset until the layout settles.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Node is a vertex of the graph. ID is unique within a graph store unless the store is permissive.
type Node struct {
	ID       string    `json:"id" validate:"required"`
	Title    string    `json:"title,omitempty"`
	Text     string    `json:"text,omitempty"`
	Color    string    `json:"color,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// Clone returns a copy of n with its own Position.
func (n Node) Clone() Node {
	if n.Position != nil {
		p := *n.Position
		n.Position = &p
	}
	return n
}

// Link is an undirected, weighted relationship between two nodes.
type Link struct {
	Source string  `json:"source" validate:"required"`
	Target string  `json:"target" validate:"required"`
	Weight float64 `json:"weight"`
	Color  string  `json:"color,omitempty"`
}

// Touches reports whether either endpoint of l is in ids.
func (l Link) Touches(ids map[string]struct{}) bool {
	if _, ok := ids[l.Source]; ok {
		return true
	}
	_, ok := ids[l.Target]
	return ok
}

// GraphData is the full node and link collection handed to the rendering boundary.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Clone returns a deep copy of g. Nil collections become empty slices so that
// snapshots always encode as arrays.
func (g GraphData) Clone() GraphData {
	out := GraphData{
		Nodes: make([]Node, len(g.Nodes)),
		Links: make([]Link, len(g.Links)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Links, g.Links)
	return out
}

// CloneLinks returns a copy of links.
func CloneLinks(links []Link) []Link {
	out := make([]Link, len(links))
	copy(out, links)
	return out
}

// EmbeddedNode is an ingestion record: node attributes plus the vector supplied
// by the external embedding generator.
type EmbeddedNode struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	Color     string    `json:"color,omitempty"`
	Embedding Embedding `json:"embedding" validate:"required,min=1"`
}

// Node returns the graph node described by e.
func (e EmbeddedNode) Node() Node {
	return Node{ID: e.ID, Title: e.Title, Text: e.Text, Color: e.Color}
}
