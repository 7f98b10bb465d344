package validate

import (
	"fmt"

	"github.com/deadsy/sdfx/sdf"
	"github.com/dhconnelly/rtreego"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/geom"
)

// ---------------------------------------------------------------------------
// Tier 2: Placement and topology
// ---------------------------------------------------------------------------

// Placement checks chiplet instances for unknown types, bad rotations, and
// overlapping footprints, and checks every link endpoint.
func Placement(d *design.Design) []Finding {
	var out []Finding
	out = append(out, validateInstances(d)...)
	out = append(out, validateOverlap(d)...)
	out = append(out, validateEndpoints(d)...)
	return out
}

func chipletSubject(i int) string { return fmt.Sprintf("chiplet:%d", i) }

func validateInstances(d *design.Design) []Finding {
	var out []Finding
	for i, inst := range d.Placement.Chiplets {
		if _, ok := d.Catalog[inst.Name]; !ok {
			out = append(out, finding(TierPlacement, "placement-unknown-type", chipletSubject(i),
				"chiplet type %q is not in the catalog", inst.Name))
		}
		if inst.Rotation%90 != 0 {
			out = append(out, finding(TierPlacement, "placement-rotation", chipletSubject(i),
				"rotation %d is not a multiple of 90", inst.Rotation))
		}
	}
	for j, ir := range d.Placement.IRouters {
		if ir.Ports < 1 {
			out = append(out, finding(TierPlacement, "placement-irouter-ports", fmt.Sprintf("irouter:%d", j),
				"interposer router has %d ports", ir.Ports))
		}
	}
	return out
}

// footprint is a placed chiplet stored in the R-tree.
type footprint struct {
	index int
	box   sdf.Box2
	rect  rtreego.Rect
}

func (f *footprint) Bounds() rtreego.Rect { return f.rect }

// validateOverlap reports every pair of chiplets whose rotated footprints
// share interior area. Candidate pairs come from an R-tree query; touching
// edges are not overlaps.
func validateOverlap(d *design.Design) []Finding {
	var out []Finding
	tree := rtreego.NewTree(2, 25, 50)
	var placed []*footprint
	for i, inst := range d.Placement.Chiplets {
		ct, ok := d.Catalog[inst.Name]
		if !ok || ct.Dimensions.X <= 0 || ct.Dimensions.Y <= 0 {
			continue
		}
		box := geom.Place(ct, inst).BoundingBox()
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{box.Min.X, box.Min.Y},
			rtreego.Point{box.Max.X, box.Max.Y},
		)
		if err != nil {
			continue
		}
		fp := &footprint{index: i, box: box, rect: rect}
		tree.Insert(fp)
		placed = append(placed, fp)
	}
	for _, a := range placed {
		for _, s := range tree.SearchIntersect(a.rect) {
			b := s.(*footprint)
			if b.index <= a.index || !geom.Overlap(a.box, b.box) {
				continue
			}
			out = append(out, finding(TierPlacement, "placement-overlap", chipletSubject(a.index),
				"overlaps chiplet %d", b.index))
		}
	}
	return out
}

// portKey identifies one port of one instance.
type portKey struct {
	kind     design.EndpointKind
	instance int
	port     int
}

func validateEndpoints(d *design.Design) []Finding {
	var out []Finding
	used := make(map[portKey]int)
	linked := make(map[portKey]bool) // port -1 marks the instance itself
	for li, l := range d.Topology {
		subject := fmt.Sprintf("link %d", li)
		valid := 0
		for _, ep := range []design.Endpoint{l.A, l.B} {
			ports, ok := endpointPorts(d, ep)
			switch {
			case ep.Kind != design.EndpointChiplet && ep.Kind != design.EndpointIRouter:
				out = append(out, finding(TierPlacement, "link-endpoint-type", subject,
					"endpoint type %q is not chiplet or irouter", ep.Kind))
				continue
			case !ok:
				out = append(out, finding(TierPlacement, "link-endpoint-instance", subject,
					"%s %d does not exist", ep.Kind, ep.Instance))
				continue
			case ep.Port < 0 || ep.Port >= ports:
				out = append(out, finding(TierPlacement, "link-endpoint-port", subject,
					"%s %d has no port %d", ep.Kind, ep.Instance, ep.Port))
				continue
			}
			key := portKey{ep.Kind, ep.Instance, ep.Port}
			if prev, dup := used[key]; dup {
				out = append(out, finding(TierPlacement, "link-port-reused", subject,
					"%s %d port %d is already used by link %d", ep.Kind, ep.Instance, ep.Port, prev))
			} else {
				used[key] = li
			}
			linked[portKey{ep.Kind, ep.Instance, -1}] = true
			valid++
		}
		if valid == 2 && l.A.Kind == l.B.Kind && l.A.Instance == l.B.Instance {
			out = append(out, finding(TierPlacement, "link-self-loop", subject,
				"connects %s %d to itself", l.A.Kind, l.A.Instance))
		}
	}
	for i := range d.Placement.Chiplets {
		if !linked[portKey{design.EndpointChiplet, i, -1}] {
			out = append(out, warning(TierPlacement, "node-unconnected", chipletSubject(i), "has no links"))
		}
	}
	for j := range d.Placement.IRouters {
		if !linked[portKey{design.EndpointIRouter, j, -1}] {
			out = append(out, warning(TierPlacement, "node-unconnected", fmt.Sprintf("irouter:%d", j), "has no links"))
		}
	}
	return out
}

// endpointPorts returns the port count of the instance an endpoint names,
// or false when the instance does not exist or has an unknown type.
func endpointPorts(d *design.Design, ep design.Endpoint) (int, bool) {
	switch ep.Kind {
	case design.EndpointChiplet:
		ct, ok := d.ChipletType(ep.Instance)
		return len(ct.PHYs), ok
	case design.EndpointIRouter:
		if ep.Instance < 0 || ep.Instance >= len(d.Placement.IRouters) {
			return 0, false
		}
		return d.Placement.IRouters[ep.Instance].Ports, true
	}
	return 0, false
}
