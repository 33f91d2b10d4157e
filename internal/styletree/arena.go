package styletree

// Kind identifies what a node in the style tree stands for.
type Kind int

const (
	KindRoot Kind = iota
	KindManifest
	KindSource
	KindStyleSource
	KindImport
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindManifest:
		return "csstxt"
	case KindSource:
		return "source"
	case KindStyleSource:
		return "style-source"
	case KindImport:
		return "import"
	default:
		return "unknown"
	}
}

const noParent = -1

// Node is one entry of the arena. ID is the slash-rooted repository path.
type Node struct {
	ID       string
	Kind     Kind
	Missing  bool
	Parent   int
	Children []int
	alive    bool
}

// model is a detached subtree produced from disk before it is grafted into
// the arena.
type model struct {
	id       string
	kind     Kind
	missing  bool
	children []*model
}

// arena stores nodes addressed by index. Removed subtrees are only marked
// dead so indices held by callers stay stable until the next compact.
type arena struct {
	nodes []Node
	dead  int
}

func newArena() *arena {
	a := &arena{}
	a.nodes = append(a.nodes, Node{ID: "/", Kind: KindRoot, Parent: noParent, alive: true})
	return a
}

const rootIndex = 0

func (a *arena) node(idx int) *Node {
	return &a.nodes[idx]
}

// graft adds m and its descendants below parent. When at is in range the new
// node takes that position in the parent's child list, otherwise it is
// appended.
func (a *arena) graft(parent int, m *model, at int) int {
	idx := len(a.nodes)
	a.nodes = append(a.nodes, Node{
		ID:      m.id,
		Kind:    m.kind,
		Missing: m.missing,
		Parent:  parent,
		alive:   true,
	})

	p := &a.nodes[parent]
	if at >= 0 && at <= len(p.Children) {
		p.Children = append(p.Children, 0)
		copy(p.Children[at+1:], p.Children[at:])
		p.Children[at] = idx
	} else {
		p.Children = append(p.Children, idx)
	}

	for _, child := range m.children {
		a.graft(idx, child, -1)
	}
	return idx
}

// replace swaps the subtree at idx for m, keeping its position among the
// siblings, and returns the index of the new subtree root.
func (a *arena) replace(idx int, m *model) int {
	parent := a.nodes[idx].Parent
	pos := a.detach(idx)
	a.kill(idx)
	return a.graft(parent, m, pos)
}

// detach unlinks idx from its parent and returns its former position.
func (a *arena) detach(idx int) int {
	parent := a.nodes[idx].Parent
	if parent == noParent {
		return -1
	}
	children := a.nodes[parent].Children
	for i, c := range children {
		if c == idx {
			a.nodes[parent].Children = append(children[:i:i], children[i+1:]...)
			return i
		}
	}
	return -1
}

func (a *arena) kill(idx int) {
	n := &a.nodes[idx]
	if !n.alive {
		return
	}
	n.alive = false
	a.dead++
	for _, c := range n.Children {
		a.kill(c)
	}
}

// find returns the live nodes whose ID equals id, in depth-first order.
func (a *arena) find(id string) []int {
	var out []int
	var walk func(int)
	walk = func(idx int) {
		n := &a.nodes[idx]
		if n.ID == id && idx != rootIndex {
			out = append(out, idx)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(rootIndex)
	return out
}

// ancestry returns the indices from the root down to idx.
func (a *arena) ancestry(idx int) []int {
	var chain []int
	for i := idx; i != noParent; i = a.nodes[i].Parent {
		chain = append(chain, i)
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

func (a *arena) live() int {
	return len(a.nodes) - a.dead
}

// compact drops dead nodes once they outnumber the live ones. Every index
// obtained before the call is invalid afterwards.
func (a *arena) compact() bool {
	if a.dead <= a.live() {
		return false
	}

	nodes := make([]Node, 0, a.live())
	var copyNode func(idx, parent int) int
	copyNode = func(idx, parent int) int {
		n := a.nodes[idx]
		at := len(nodes)
		nodes = append(nodes, Node{
			ID:      n.ID,
			Kind:    n.Kind,
			Missing: n.Missing,
			Parent:  parent,
			alive:   true,
		})
		children := make([]int, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, copyNode(c, at))
		}
		nodes[at].Children = children
		return at
	}
	copyNode(rootIndex, noParent)

	a.nodes = nodes
	a.dead = 0
	return true
}
