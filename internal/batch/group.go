package batch

import (
	"sort"

	"axonbatch/internal/model"
)

// Groups maps a shape key to the fibers sharing it, in input order.
type Groups map[model.ShapeKey][]model.Fiber

// GroupByShape partitions fibers by (diameter, node count). Every fiber lands
// in exactly one group.
func GroupByShape(fibers []model.Fiber) Groups {
	groups := make(Groups)
	for _, f := range fibers {
		key := f.Key()
		groups[key] = append(groups[key], f)
	}
	return groups
}

// Keys returns the group keys sorted by diameter, then node count.
func (g Groups) Keys() []model.ShapeKey {
	keys := make([]model.ShapeKey, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Diam != keys[j].Diam {
			return keys[i].Diam < keys[j].Diam
		}
		return keys[i].Nodes < keys[j].Nodes
	})
	return keys
}

func (g Groups) Size() int {
	total := 0
	for _, fibers := range g {
		total += len(fibers)
	}
	return total
}
