package nn

import (
	"fmt"

	"hecnn_lib/core/slot"
)

// LayerBudget is the depth accounting of one layer.
type LayerBudget struct {
	Tag         string
	Levels      int
	DepthBefore int
	DepthAfter  int
	// Refresh marks a layer whose input is refreshed first.
	Refresh bool
}

// DepthPlan is the depth accounting of a whole network.
type DepthPlan struct {
	Layers      []LayerBudget
	TotalLevels int
	// Required is the input depth the network needs.
	Required  int
	Refreshes int
}

// Plan walks the layers of s starting from an input of the given depth. It
// fails with slot.ErrInsufficientDepth, before any shard is touched, when
// some layer would start below slot.MinMulDepth plus its levels.
func Plan(s *Sequential, depth int) (DepthPlan, error) {
	return plan(s, depth, 0)
}

// PlanWithRefresh is Plan for a network that refreshes its shards to fresh
// towers whenever the next layer would not fit, as Sequential does when
// Refresh is set. It only fails when a single layer needs more than fresh.
func PlanWithRefresh(s *Sequential, depth, fresh int) (DepthPlan, error) {
	return plan(s, depth, fresh)
}

func plan(s *Sequential, depth, fresh int) (DepthPlan, error) {
	var p DepthPlan
	for _, layer := range s.Layers {
		p.TotalLevels += layer.Levels()
	}
	p.Required = slot.MinMulDepth + p.TotalLevels

	d := depth
	for i, layer := range s.Layers {
		lv := layer.Levels()
		need := slot.MinMulDepth + lv
		refresh := d < need && fresh >= need
		if refresh {
			d = fresh
			p.Refreshes++
		}
		if d < need {
			return p, fmt.Errorf("%w: layer %d (%s) needs depth %d, has %d (network needs %d, input has %d)",
				slot.ErrInsufficientDepth, i, layer.Tag(), need, d, p.Required, depth)
		}
		p.Layers = append(p.Layers, LayerBudget{Tag: layer.Tag(), Levels: lv, DepthBefore: d, DepthAfter: d - lv, Refresh: refresh})
		d -= lv
	}
	return p, nil
}

// String renders the plan as one line per layer.
func (p DepthPlan) String() string {
	out := fmt.Sprintf("total levels %d, input depth needed %d, refreshes %d\n", p.TotalLevels, p.Required, p.Refreshes)
	for _, l := range p.Layers {
		mark := ""
		if l.Refresh {
			mark = "  (refresh)"
		}
		out += fmt.Sprintf("  %-28s levels %d  depth %d -> %d%s\n", l.Tag, l.Levels, l.DepthBefore, l.DepthAfter, mark)
	}
	return out
}
