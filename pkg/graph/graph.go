package graph

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// DefaultMaxPathDepth bounds breadth-first path searches so traversal
// terminates on cyclic graphs
const DefaultMaxPathDepth = 10

// UnregisteredTargetError is returned by BuildEdges when a relationship
// names a target entity that was never registered and the graph was not
// configured to tolerate dangling relationships. It is fatal: the
// process must not serve the affected capability.
type UnregisteredTargetError struct {
	Source       string
	Relationship string
	Target       string
}

func (e *UnregisteredTargetError) Error() string {
	return fmt.Sprintf("entity %s relationship %s targets unregistered entity %s", e.Source, e.Relationship, e.Target)
}

// Options controls graph construction behavior
type Options struct {
	// AllowDangling downgrades unregistered relationship targets from a
	// fatal build error to a warning; the edge is skipped and the rest of
	// the graph remains usable
	AllowDangling bool `json:"allow_dangling" yaml:"allow_dangling"`

	// MaxPathDepth bounds FindPath searches; 0 means DefaultMaxPathDepth
	MaxPathDepth int `json:"max_path_depth" yaml:"max_path_depth"`
}

// Edge is one classified relationship between two registered entities.
// ForeignKey and the junction columns are the effective names after
// convention defaults are applied; which table carries the foreign key
// follows from Kind (see ForeignKeyHolder).
type Edge struct {
	Source string
	Target string
	Name   string
	Kind   Kind

	// ForeignKey is the FK column name for non-junction kinds
	ForeignKey string

	// Junction columns for MANY_TO_MANY
	Junction      string
	JunctionLeft  string
	JunctionRight string

	CascadeDelete     bool
	CascadeSoftDelete bool

	Descriptor *schema.RelationshipDescriptor
}

// ForeignKeyHolder returns the name of the entity whose table carries
// the foreign-key column: the owner for MANY_TO_ONE, the target for
// ONE_TO_MANY and ONE_TO_ONE, nobody for MANY_TO_MANY.
func (e *Edge) ForeignKeyHolder() string {
	switch e.Kind {
	case ManyToOne:
		return e.Source
	case OneToMany, OneToOne:
		return e.Target
	default:
		return ""
	}
}

// ForeignKeyReference returns the name of the entity whose primary key
// the foreign-key column stores, or "" for MANY_TO_MANY.
func (e *Edge) ForeignKeyReference() string {
	switch e.Kind {
	case ManyToOne:
		return e.Target
	case OneToMany, OneToOne:
		return e.Source
	default:
		return ""
	}
}

// Node is one registered entity and its adjacency
type Node struct {
	entity  *schema.EntityType
	out     []*Edge
	in      []*Edge
	columns map[string]bool
}

// Entity returns the node's schema declaration
func (n *Node) Entity() *schema.EntityType {
	return n.entity
}

// OutEdges returns the relationships this entity owns, in declaration order
func (n *Node) OutEdges() []*Edge {
	out := make([]*Edge, len(n.out))
	copy(out, n.out)
	return out
}

// InEdges returns the relationships targeting this entity, in build order
func (n *Node) InEdges() []*Edge {
	in := make([]*Edge, len(n.in))
	copy(in, n.in)
	return in
}

// Graph is the directed model relationship graph. Construct with
// NewGraph, populate with Initialize (or Register + BuildEdges), then
// treat as read-only; every reader method is safe for unbounded
// concurrent use once the graph is built.
type Graph struct {
	mu          sync.Mutex
	logger      *zap.SugaredLogger
	opts        Options
	initialized bool

	nodes map[string]*Node
	order []string
	edges []*Edge
}

// NewGraph creates an empty graph. A nil logger disables logging.
func NewGraph(opts Options, logger *zap.SugaredLogger) *Graph {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.MaxPathDepth <= 0 {
		opts.MaxPathDepth = DefaultMaxPathDepth
	}
	return &Graph{
		logger: logger,
		opts:   opts,
		nodes:  make(map[string]*Node),
	}
}

// Initialize registers every catalog entity and builds the edges in one
// call. It is idempotent: a second call is a no-op with a warning, never
// an error, so re-triggered bootstrap paths stay safe.
func (g *Graph) Initialize(catalog *schema.Catalog) error {
	if catalog == nil {
		return fmt.Errorf("catalog cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		g.logger.Warnw("model graph already initialized, ignoring re-initialization")
		return nil
	}

	for _, entity := range catalog.Entities() {
		g.registerLocked(entity)
	}
	return g.buildEdgesLocked()
}

// Register adds one entity node. Duplicate registration is a no-op with
// a warning; registration after the graph is built is rejected the same
// way (the graph is immutable once initialized).
func (g *Graph) Register(entity *schema.EntityType) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		g.logger.Warnw("model graph already initialized, ignoring registration",
			"entity", entityName(entity))
		return
	}
	g.registerLocked(entity)
}

func (g *Graph) registerLocked(entity *schema.EntityType) {
	if entity == nil || entity.Name == "" {
		g.logger.Warnw("ignoring invalid entity registration")
		return
	}
	if _, dup := g.nodes[entity.Name]; dup {
		g.logger.Warnw("duplicate entity registration ignored", "entity", entity.Name)
		return
	}

	g.nodes[entity.Name] = &Node{entity: entity}
	g.order = append(g.order, entity.Name)
	g.logger.Debugw("registered entity", "entity", entity.Name)
}

// BuildEdges classifies every registered relationship and materializes
// the adjacency lists, then freezes the graph. A relationship targeting
// an unregistered entity is skipped with a warning when AllowDangling is
// set; otherwise it fails the build with UnregisteredTargetError.
func (g *Graph) BuildEdges() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		g.logger.Warnw("model graph already initialized, ignoring edge rebuild")
		return nil
	}
	return g.buildEdgesLocked()
}

func (g *Graph) buildEdgesLocked() error {
	for _, name := range g.order {
		node := g.nodes[name]
		for i := range node.entity.Relationships {
			desc := &node.entity.Relationships[i]

			target, ok := g.nodes[desc.Target]
			if !ok {
				if g.opts.AllowDangling {
					g.logger.Warnw("skipping relationship with unregistered target",
						"entity", name,
						"relationship", desc.Name,
						"target", desc.Target)
					continue
				}
				return &UnregisteredTargetError{Source: name, Relationship: desc.Name, Target: desc.Target}
			}

			kind, err := Classify(desc.Direction, desc.OwnerSingle, desc.HasJunction())
			if err != nil {
				return fmt.Errorf("entity %s relationship %s: %w", name, desc.Name, err)
			}

			edge := newEdge(name, desc, kind)
			node.out = append(node.out, edge)
			target.in = append(target.in, edge)
			g.edges = append(g.edges, edge)

			g.logger.Debugw("built relationship edge",
				"source", name,
				"relationship", desc.Name,
				"target", desc.Target,
				"kind", kind.String(),
				"handler", HandlerName(kind))
		}
	}

	g.buildColumnsLocked()
	g.initialized = true
	g.logger.Infow("model graph built", "entities", len(g.order), "edges", len(g.edges))
	return nil
}

// newEdge applies the foreign-key and junction naming conventions
func newEdge(source string, desc *schema.RelationshipDescriptor, kind Kind) *Edge {
	e := &Edge{
		Source:            source,
		Target:            desc.Target,
		Name:              desc.Name,
		Kind:              kind,
		CascadeDelete:     desc.CascadeDelete,
		CascadeSoftDelete: desc.SoftDeleteCascades(),
		Descriptor:        desc,
	}

	switch kind {
	case ManyToMany:
		e.Junction = desc.Junction
		e.JunctionLeft = desc.JunctionLeft
		if e.JunctionLeft == "" {
			e.JunctionLeft = defaultForeignKey(source)
		}
		e.JunctionRight = desc.JunctionRight
		if e.JunctionRight == "" {
			e.JunctionRight = defaultForeignKey(desc.Target)
		}
	case ManyToOne:
		e.ForeignKey = desc.ForeignKey
		if e.ForeignKey == "" {
			e.ForeignKey = defaultForeignKey(desc.Target)
		}
	case OneToMany, OneToOne:
		e.ForeignKey = desc.ForeignKey
		if e.ForeignKey == "" {
			e.ForeignKey = defaultForeignKey(source)
		}
	}

	return e
}

func defaultForeignKey(entityName string) string {
	return strings.ToLower(entityName) + "_id"
}

// buildColumnsLocked computes each node's writable column set: declared
// fields, the primary key, the reserved timestamp columns, and every
// foreign-key column this entity's table carries.
func (g *Graph) buildColumnsLocked() {
	for _, name := range g.order {
		node := g.nodes[name]
		cols := map[string]bool{
			node.entity.PrimaryKey:  true,
			storage.ColumnCreatedAt: true,
			storage.ColumnUpdatedAt: true,
			storage.ColumnDeletedAt: true,
		}
		for _, f := range node.entity.Fields {
			cols[f.Name] = true
		}
		node.columns = cols
	}
	for _, e := range g.edges {
		holder := e.ForeignKeyHolder()
		if holder == "" {
			continue
		}
		if node, ok := g.nodes[holder]; ok {
			node.columns[e.ForeignKey] = true
		}
	}
}

func entityName(e *schema.EntityType) string {
	if e == nil {
		return ""
	}
	return e.Name
}

// ============================================================================
// READ API - safe for concurrent use once the graph is built
// ============================================================================

// Initialized reports whether the graph has been built
func (g *Graph) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized
}

// Node returns the node for the named entity
func (g *Graph) Node(entity string) (*Node, bool) {
	n, ok := g.nodes[entity]
	return n, ok
}

// Entity returns the schema declaration for the named entity
func (g *Graph) Entity(entity string) (*schema.EntityType, bool) {
	n, ok := g.nodes[entity]
	if !ok {
		return nil, false
	}
	return n.entity, true
}

// Relationship returns the classified edge for one relationship of an
// entity
func (g *Graph) Relationship(entity, name string) (*Edge, bool) {
	n, ok := g.nodes[entity]
	if !ok {
		return nil, false
	}
	for _, e := range n.out {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// HasColumn reports whether the entity's table carries the column
// (declared field, primary key, reserved timestamp, or foreign key)
func (g *Graph) HasColumn(entity, column string) bool {
	n, ok := g.nodes[entity]
	if !ok || n.columns == nil {
		return false
	}
	return n.columns[column]
}

// ValidateChain walks a dot-separated relationship path starting at the
// given entity (e.g. "posts.tags") and returns the terminal entity name.
// Any unknown segment makes the whole chain invalid.
func (g *Graph) ValidateChain(entity, chain string) (string, bool) {
	if chain == "" {
		return "", false
	}
	current := entity
	for _, segment := range strings.Split(chain, ".") {
		edge, ok := g.Relationship(current, segment)
		if !ok {
			return "", false
		}
		current = edge.Target
	}
	return current, true
}

// FindPath runs a breadth-first search from source to target over the
// forward adjacency and returns the first shortest edge sequence found.
// Edges are expanded in declaration order, so results are stable across
// runs given the same registration order. FindPath(A, A) returns an
// empty, found path. maxDepth <= 0 uses the configured default.
func (g *Graph) FindPath(source, target string, maxDepth int) ([]*Edge, bool) {
	if _, ok := g.nodes[source]; !ok {
		return nil, false
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, false
	}
	if source == target {
		return []*Edge{}, true
	}
	if maxDepth <= 0 {
		maxDepth = g.opts.MaxPathDepth
	}

	type searchItem struct {
		node string
		path []*Edge
	}

	visited := map[string]bool{source: true}
	queue := []searchItem{{node: source}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if len(current.path) >= maxDepth {
			continue
		}

		for _, e := range g.nodes[current.node].out {
			if visited[e.Target] {
				continue
			}
			path := make([]*Edge, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, e)

			if e.Target == target {
				return path, true
			}
			visited[e.Target] = true
			queue = append(queue, searchItem{node: e.Target, path: path})
		}
	}

	return nil, false
}

// DetectCycles runs a depth-first search with a recursion stack and
// returns every cycle found, each as an ordered entity-name list that
// starts and ends at the node where the back edge was discovered. A
// cycle is reported once per back edge; rotations of the same cycle
// reached from different roots are not deduplicated.
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool, len(g.nodes))
	recStack := make(map[string]bool, len(g.nodes))
	var path []string

	var dfs func(name string)
	dfs = func(name string) {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, e := range g.nodes[name].out {
			if !visited[e.Target] {
				dfs(e.Target)
			} else if recStack[e.Target] {
				start := 0
				for i, n := range path {
					if n == e.Target {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(path)-start+1)
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, e.Target)
				cycles = append(cycles, cycle)
			}
		}

		recStack[name] = false
		path = path[:len(path)-1]
	}

	for _, name := range g.order {
		if !visited[name] {
			dfs(name)
		}
	}

	return cycles
}

// DependentsOf returns the transitive closure of entities that reference
// the given entity (reverse adjacency). Cascade deletes resolve this
// closure up front; a deep chain is fully known before any row is
// touched. The queried entity itself is not included.
func (g *Graph) DependentsOf(entity string) []string {
	if _, ok := g.nodes[entity]; !ok {
		return nil
	}

	var out []string
	visited := map[string]bool{entity: true}

	var walk func(name string)
	walk = func(name string) {
		for _, e := range g.nodes[name].in {
			if visited[e.Source] {
				continue
			}
			visited[e.Source] = true
			out = append(out, e.Source)
			walk(e.Source)
		}
	}
	walk(entity)

	return out
}

// DependenciesOf returns the transitive closure of entities the given
// entity references (forward adjacency), excluding the entity itself
func (g *Graph) DependenciesOf(entity string) []string {
	if _, ok := g.nodes[entity]; !ok {
		return nil
	}

	var out []string
	visited := map[string]bool{entity: true}

	var walk func(name string)
	walk = func(name string) {
		for _, e := range g.nodes[name].out {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			out = append(out, e.Target)
			walk(e.Target)
		}
	}
	walk(entity)

	return out
}

// DependentEdges returns every edge whose foreign key references the
// given entity's primary key, in build order. These are the edges a
// record-level cascade must follow: rows on the holder side would dangle
// if a referenced record disappeared.
func (g *Graph) DependentEdges(entity string) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.ForeignKeyReference() == entity {
			out = append(out, e)
		}
	}
	return out
}

// JunctionEdges returns every MANY_TO_MANY edge touching the given
// entity, in build order
func (g *Graph) JunctionEdges(entity string) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Kind == ManyToMany && (e.Source == entity || e.Target == entity) {
			out = append(out, e)
		}
	}
	return out
}

// Summary is a point-in-time diagnostic view of the graph
type Summary struct {
	Nodes         int
	Edges         int
	Relationships map[string][]string
	Cycles        [][]string
}

// Summary reports node/edge counts, a per-entity edge listing, and any
// cycles. Intended for startup logs and operational diagnostics.
func (g *Graph) Summary() Summary {
	s := Summary{
		Nodes:         len(g.order),
		Edges:         len(g.edges),
		Relationships: make(map[string][]string, len(g.order)),
		Cycles:        g.DetectCycles(),
	}
	for _, name := range g.order {
		node := g.nodes[name]
		rels := make([]string, 0, len(node.out))
		for _, e := range node.out {
			rels = append(rels, fmt.Sprintf("%s -> %s (%s)", e.Name, e.Target, e.Kind))
		}
		s.Relationships[name] = rels
	}
	return s
}
