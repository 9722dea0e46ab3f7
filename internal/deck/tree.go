// Package deck assembles the flat deck and card rows into the navigable
// hierarchy the CLI and dashboard render.
//
// The store keeps decks as rows with a self-referential parent_id; this
// package turns one snapshot of those rows into a Tree of Nodes. Building is
// tolerant of half-synced data: a deck whose parent has not arrived yet shows
// up as a root rather than disappearing, and a card whose deck is missing
// lands in the unfiled bucket.
package deck

import (
	"sort"
	"strings"

	"github.com/leitnerhq/leitner/internal/schema"
)

// Node is one deck with its resolved children and directly filed cards.
type Node struct {
	Deck     *schema.Deck
	Children []*Node
	Cards    []*schema.Card
}

// Tree is one consistent snapshot of the deck hierarchy.
type Tree struct {
	// Roots are the top-level nodes, ordered case-insensitively by name.
	Roots []*Node
	// Unfiled holds cards with no deck or a deck reference that resolves
	// to nothing.
	Unfiled []*schema.Card
}

// Build assembles a tree from flat deck and card slices in a single pass
// over each.
//
// A deck becomes a root when its parent id is nil or names a deck absent
// from the input; self-references also fall back to root. Children and
// cards keep their input order, which for store queries is name order and
// creation order respectively.
func Build(decks []*schema.Deck, cards []*schema.Card) *Tree {
	byID := make(map[string]*Node, len(decks))
	for _, d := range decks {
		byID[d.ID] = &Node{Deck: d}
	}

	tree := &Tree{}
	for _, d := range decks {
		node := byID[d.ID]
		if d.ParentID != nil && *d.ParentID != d.ID {
			if parent, ok := byID[*d.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		tree.Roots = append(tree.Roots, node)
	}

	for _, c := range cards {
		if c.DeckID != nil {
			if node, ok := byID[*c.DeckID]; ok {
				node.Cards = append(node.Cards, c)
				continue
			}
		}
		tree.Unfiled = append(tree.Unfiled, c)
	}

	sort.Slice(tree.Roots, func(i, j int) bool {
		a := strings.ToLower(tree.Roots[i].Deck.Name)
		b := strings.ToLower(tree.Roots[j].Deck.Name)
		if a != b {
			return a < b
		}
		return tree.Roots[i].Deck.ID < tree.Roots[j].Deck.ID
	})
	return tree
}

// TotalCards counts the cards filed in this node and every descendant.
func (n *Node) TotalCards() int {
	total := len(n.Cards)
	for _, child := range n.Children {
		total += child.TotalCards()
	}
	return total
}

// Find returns the node for the given deck id, or nil.
func (t *Tree) Find(id string) *Node {
	var walk func(nodes []*Node) *Node
	walk = func(nodes []*Node) *Node {
		for _, n := range nodes {
			if n.Deck.ID == id {
				return n
			}
			if found := walk(n.Children); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(t.Roots)
}

// Walk visits every node depth-first, parents before children.
func (t *Tree) Walk(fn func(n *Node, depth int)) {
	var walk func(nodes []*Node, depth int)
	walk = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(t.Roots, 0)
}
