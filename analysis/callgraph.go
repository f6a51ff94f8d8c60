package analysis

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/simt/ir"
	"github.com/gomlx/simt/types"
)

// WalkOrder selects when a Walk callback fires relative to the subtree below it.
type WalkOrder int

const (
	// PreOrder fires the callback before the subtree it leads into is walked.
	PreOrder WalkOrder = iota
	// PostOrder fires the callback after the subtree it leads into is walked.
	PostOrder
)

// callEdge is one resolved call site: the Call operation and the function it
// resolves to within the module.
type callEdge struct {
	site   *ir.Op
	callee *ir.Func
}

// CallGraph is the directed graph of resolved calls between the functions of one
// module, with an attached payload of type T per function, used by interprocedural
// passes to propagate summaries bottom-up (post-order) or context top-down
// (pre-order).
//
// The graph is a snapshot: it is built by one read-only scan of the module and is
// not kept in sync with it. A transformation that replaces a function or clones a
// call site updates the snapshot through MapFuncOp and MapCallOp instead of
// rebuilding. The caller must serialize those mutations relative to any Walk of
// the same graph; nothing here locks.
type CallGraph[T any] struct {
	module *ir.Module
	edges  map[*ir.Func][]callEdge
	roots  []*ir.Func
	data   map[*ir.Func]T
}

// NewCallGraph scans the module once and builds its call graph. A Call operation
// whose callee name resolves to a function of the module becomes an edge;
// unresolved callees (external or indirect calls) are silently skipped and stay
// invisible to interprocedural analysis, trading soundness for precision. Roots
// are the functions never seen as a resolved callee, in module order: entry points
// or dead code.
func NewCallGraph[T any](m *ir.Module) *CallGraph[T] {
	if m == nil {
		exceptions.Panicf("NewCallGraph: nil module")
	}
	g := &CallGraph[T]{
		module: m,
		edges:  make(map[*ir.Func][]callEdge, len(m.Funcs())),
		data:   make(map[*ir.Func]T),
	}
	callees := types.MakeSet[*ir.Func](len(m.Funcs()))
	for _, f := range m.Funcs() {
		g.edges[f] = nil
		for _, op := range f.Ops() {
			if op.Type() != ir.OpTypeCall {
				continue
			}
			callee := m.FuncByName(op.Callee())
			if callee == nil {
				klog.V(2).Infof("call graph %q: unresolved callee %q at %s, skipped", m.Name(), op.Callee(), op)
				continue
			}
			g.edges[f] = append(g.edges[f], callEdge{site: op, callee: callee})
			callees.Insert(callee)
			klog.V(2).Infof("call graph %q: edge %s -> %s", m.Name(), f, callee)
		}
	}
	numEdges := 0
	for _, f := range m.Funcs() {
		numEdges += len(g.edges[f])
		if !callees.Has(f) {
			g.roots = append(g.roots, f)
		}
	}
	klog.V(1).Infof("call graph %q: %d functions, %d edges, %d roots",
		m.Name(), len(g.edges), numEdges, len(g.roots))
	return g
}

// Module returns the module the graph was built from.
func (g *CallGraph[T]) Module() *ir.Module { return g.module }

// NumFunctions returns how many functions the graph tracks.
func (g *CallGraph[T]) NumFunctions() int { return len(g.edges) }

// Roots returns the functions never seen as a resolved callee, in module order.
// Owned by the graph; don't modify.
func (g *CallGraph[T]) Roots() []*ir.Func { return g.roots }

// IsRoot returns whether f is a root of the graph.
func (g *CallGraph[T]) IsRoot(f *ir.Func) bool {
	for _, root := range g.roots {
		if root == f {
			return true
		}
	}
	return false
}

// FuncData returns the payload attached to f, and whether one was attached. A
// function never analyzed has no payload; that is not an error, callers must
// handle it (functions outside the analyzed region reach here).
func (g *CallGraph[T]) FuncData(f *ir.Func) (T, bool) {
	data, found := g.data[f]
	return data, found
}

// SetFuncData attaches a payload to f, replacing any previous one.
func (g *CallGraph[T]) SetFuncData(f *ir.Func, data T) {
	if _, found := g.edges[f]; !found {
		exceptions.Panicf("CallGraph.SetFuncData: %s is not in the graph", f)
	}
	g.data[f] = data
}

// walkFrame is one function being walked, with the edge that entered it (nil for
// roots) and the next outgoing edge to follow.
type walkFrame struct {
	fn   *ir.Func
	in   *callEdge
	next int
}

// Walk runs a depth-first traversal from every root. nodeFn fires exactly once per
// function and edgeFn exactly once per resolved call site, each independently
// timed PreOrder (before the callee subtree) or PostOrder (after it). Either
// callback may be nil. An edge whose callee was already walked, reached through an
// earlier call site, still fires edgeFn but is not descended into again.
//
// The traversal assumes the program has no recursion: the code-generation model
// cannot lower recursive kernels. Re-entering a function already on the current
// path is therefore a bug in whatever built the module, and panics naming the
// cycle. The stack is explicit, so the native recursion depth does not grow with
// the program.
func (g *CallGraph[T]) Walk(edgeOrder, nodeOrder WalkOrder, edgeFn func(site *ir.Op, callee *ir.Func), nodeFn func(f *ir.Func)) {
	visited := types.MakeSet[*ir.Func](len(g.edges))
	onPath := types.MakeSet[*ir.Func]()
	var stack []walkFrame

	enter := func(f *ir.Func, in *callEdge) {
		visited.Insert(f)
		onPath.Insert(f)
		stack = append(stack, walkFrame{fn: f, in: in})
		if nodeOrder == PreOrder && nodeFn != nil {
			nodeFn(f)
		}
	}

	for _, root := range g.roots {
		if visited.Has(root) {
			continue
		}
		enter(root, nil)
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(g.edges[f.fn]) {
				edge := &g.edges[f.fn][f.next]
				f.next++
				if edgeOrder == PreOrder && edgeFn != nil {
					edgeFn(edge.site, edge.callee)
				}
				if onPath.Has(edge.callee) {
					exceptions.Panicf("call graph %q: cycle detected at %s calling %s: recursion is not supported",
						g.module.Name(), edge.site, edge.callee)
				}
				if !visited.Has(edge.callee) {
					enter(edge.callee, edge)
					continue
				}
				// Callee subtree walked through an earlier call site.
				if edgeOrder == PostOrder && edgeFn != nil {
					edgeFn(edge.site, edge.callee)
				}
				continue
			}
			// Outgoing edges exhausted: close the function, then its entering edge.
			if nodeOrder == PostOrder && nodeFn != nil {
				nodeFn(f.fn)
			}
			onPath.Delete(f.fn)
			in := f.in
			stack = stack[:len(stack)-1]
			if in != nil && edgeOrder == PostOrder && edgeFn != nil {
				edgeFn(in.site, in.callee)
			}
		}
	}

	// Every function of an acyclic graph is reachable from some root, so leftovers
	// sit on a call cycle with no outside caller, which the root loop never enters.
	if len(visited) < len(g.edges) {
		for _, f := range g.module.Funcs() {
			if _, found := g.edges[f]; found && !visited.Has(f) {
				exceptions.Panicf("call graph %q: %s is unreachable from any root, it sits on a recursive call cycle",
					g.module.Name(), f)
			}
		}
		exceptions.Panicf("call graph %q: %d functions unreachable from any root, they sit on a recursive call cycle",
			g.module.Name(), len(g.edges)-len(visited))
	}
}

// MapFuncOp migrates the function identity from to to: every edge resolving to
// from now resolves to to, and from's adjacency list, payload and root membership
// move with it. Call it after a transformation replaced a function (cloning,
// specialization) so the snapshot tracks the new identity without a rebuild. from
// must be in the graph and to must not.
func (g *CallGraph[T]) MapFuncOp(from, to *ir.Func) {
	if from == nil || to == nil {
		exceptions.Panicf("CallGraph.MapFuncOp: nil function")
	}
	adjacency, found := g.edges[from]
	if !found {
		exceptions.Panicf("CallGraph.MapFuncOp: %s is not in the graph", from)
	}
	if _, found := g.edges[to]; found {
		exceptions.Panicf("CallGraph.MapFuncOp: %s is already in the graph", to)
	}
	delete(g.edges, from)
	g.edges[to] = adjacency
	if data, found := g.data[from]; found {
		delete(g.data, from)
		g.data[to] = data
	}
	for _, edges := range g.edges {
		for ii := range edges {
			if edges[ii].callee == from {
				edges[ii].callee = to
			}
		}
	}
	for ii, root := range g.roots {
		if root == from {
			g.roots[ii] = to
		}
	}
}

// MapCallOp rewrites the call-site identity of every edge labeled from to to,
// leaving callees and payloads untouched. Call it after a call operation was
// cloned or replaced in place.
func (g *CallGraph[T]) MapCallOp(from, to *ir.Op) {
	if from == nil || to == nil {
		exceptions.Panicf("CallGraph.MapCallOp: nil operation")
	}
	for _, edges := range g.edges {
		for ii := range edges {
			if edges[ii].site == from {
				edges[ii].site = to
			}
		}
	}
}
