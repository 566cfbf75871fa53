package engine

import "sort"

// compile validates the graph and returns its nodes in execution order.
// Must be called with sg.mu held.
func (sg *Subgraph) compile(op string) ([]*step, error) {
	for id := uint32(0); id < sg.numExternal; id++ {
		v := sg.values[id]
		if v == nil {
			return nil, newError(op, InvalidParameter, "external value %d is not defined", id)
		}
		if v.isExternalOutput() && v.producer < 0 {
			return nil, newError(op, InvalidParameter, "external output %d has no producer", id)
		}
	}

	steps := make([]*step, len(sg.nodes))
	for i, n := range sg.nodes {
		entry, ok := operators.Get(n.op)
		if !ok {
			return nil, newError(op, UnsupportedParameter, "node %d: unsupported operator %d", i, int(n.op))
		}
		for _, id := range n.inputs {
			if id == InvalidValueID {
				continue
			}
			v := sg.values[id]
			if !v.isStatic() && !v.isExternal() && v.producer < 0 {
				return nil, newError(op, InvalidParameter, "node %d (%s): value %d has no producer", i, entry.Name, id)
			}
		}

		s := &step{node: n, kernel: entry}
		if n.op == OpFullyConnected {
			filter := sg.values[n.inputs[1]].shape
			s.out, s.in = filter[0], filter[1]
			if n.flags&FlagTransposeWeights != 0 {
				s.in, s.out = s.out, s.in
			}
		}
		steps[i] = s
	}

	order, err := sg.topologicalOrder()
	if err != nil {
		return nil, newError(op, InvalidParameter, "%v", err)
	}

	sorted := make([]*step, len(order))
	for i, idx := range order {
		sorted[i] = steps[idx]
	}
	return sorted, nil
}

// topologicalOrder orders nodes with Kahn's algorithm, preferring definition
// order among ready nodes. Must be called with sg.mu held.
func (sg *Subgraph) topologicalOrder() ([]int, error) {
	inDegree := make([]int, len(sg.nodes))
	dependents := make([][]int, len(sg.nodes))
	for i, n := range sg.nodes {
		for _, id := range n.inputs {
			if id == InvalidValueID {
				continue
			}
			if p := sg.values[id].producer; p >= 0 {
				inDegree[i]++
				dependents[p] = append(dependents[p], i)
			}
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(sg.nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(sg.nodes) {
		return nil, errCycle
	}
	return order, nil
}

// arenaAlignment is the workspace granularity in float32 values (64 bytes).
const arenaAlignment = 16

type block struct {
	offset int
	size   int
}

// planMemory assigns workspace offsets to intermediates, reusing the space of
// values whose last consumer already ran. Returns the arena size in values.
func planMemory(steps []*step, values []*runtimeValue) int {
	lastUse := make(map[uint32]int)
	for i, s := range steps {
		for _, id := range s.node.inputs {
			if id != InvalidValueID && values[id].intermediate() {
				lastUse[id] = i
			}
		}
	}

	var (
		free []block
		top  int
	)
	alloc := func(size int) int {
		for i, b := range free {
			if b.size < size {
				continue
			}
			offset := b.offset
			if b.size == size {
				free = append(free[:i], free[i+1:]...)
			} else {
				free[i] = block{offset: b.offset + size, size: b.size - size}
			}
			return offset
		}
		offset := top
		top += size
		return offset
	}
	release := func(b block) {
		free = append(free, b)
		sort.Slice(free, func(i, j int) bool { return free[i].offset < free[j].offset })
		merged := free[:1]
		for _, next := range free[1:] {
			last := &merged[len(merged)-1]
			if last.offset+last.size == next.offset {
				last.size += next.size
				continue
			}
			merged = append(merged, next)
		}
		free = merged
	}
	sizeOf := func(v *runtimeValue) int {
		n := v.shape.NumElements()
		return (n + arenaAlignment - 1) / arenaAlignment * arenaAlignment
	}

	for i, s := range steps {
		out := values[s.node.output]
		if out.intermediate() {
			out.offset = alloc(sizeOf(out))
		}

		released := make(map[uint32]bool)
		for _, id := range s.node.inputs {
			if id == InvalidValueID || released[id] || !values[id].intermediate() || lastUse[id] != i {
				continue
			}
			released[id] = true
			release(block{offset: values[id].offset, size: sizeOf(values[id])})
		}

		if _, consumed := lastUse[s.node.output]; out.intermediate() && !consumed {
			release(block{offset: out.offset, size: sizeOf(out)})
		}
	}
	return top
}
