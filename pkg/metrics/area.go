package metrics

import (
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/geom"
)

// Area describes the package footprint. The bounding box covers every
// rotated chiplet footprint and every interposer router position.
type Area struct {
	ChipWidth           float64 `json:"chip_width"`
	ChipHeight          float64 `json:"chip_height"`
	TotalChipletArea    float64 `json:"total_chiplet_area"`
	TotalInterposerArea float64 `json:"total_interposer_area"`

	Bounds sdf.Box2 `json:"-"`
}

// AreaSummary returns the package area.
func AreaSummary(c *Context) (*Area, error) {
	return c.areaSummary()
}

func computeArea(d *design.Design) (*Area, error) {
	boxes := make([]sdf.Box2, 0, len(d.Placement.Chiplets))
	total := 0.0
	for i, inst := range d.Placement.Chiplets {
		ct, ok := d.Catalog[inst.Name]
		if !ok {
			return nil, errs.Config("placement", "chiplet %d has unknown type %q", i, inst.Name)
		}
		total += ct.Dimensions.Area()
		boxes = append(boxes, geom.Place(ct, inst).BoundingBox())
	}
	points := lo.Map(d.Placement.IRouters, func(ir design.IRouterInstance, _ int) v2.Vec {
		return v2.Vec{X: ir.Position.X, Y: ir.Position.Y}
	})
	bounds, ok := geom.Bounds(boxes, points)
	if !ok {
		return nil, errs.Numeric("metrics.Area", "placement is empty")
	}
	size := bounds.Size()
	return &Area{
		ChipWidth:           size.X,
		ChipHeight:          size.Y,
		TotalChipletArea:    total,
		TotalInterposerArea: size.X * size.Y,
		Bounds:              bounds,
	}, nil
}
