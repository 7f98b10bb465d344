// Package design defines the input data model for an interconnect design:
// the chiplet catalog, the placement of chiplet and interposer-router
// instances, the link topology, packaging and technology parameters, and the
// thermal configuration. Values in this package are plain data; they are
// produced by the DSL engine or decoded from JSON and consumed read-only.
package design

import (
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// ---------------------------------------------------------------------------
// Chiplets
// ---------------------------------------------------------------------------

// ChipletKind classifies the function of a chiplet type.
type ChipletKind string

const (
	KindCompute ChipletKind = "compute"
	KindMemory  ChipletKind = "memory"
	KindIO      ChipletKind = "io"
)

// ValidChipletKinds lists the accepted chiplet kinds.
var ValidChipletKinds = map[ChipletKind]bool{
	KindCompute: true,
	KindMemory:  true,
	KindIO:      true,
}

// Dimensions is a width (x) and height (y) in mm.
type Dimensions struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Area returns X*Y in mm².
func (d Dimensions) Area() float64 {
	return d.X * d.Y
}

// PHY is a physical interconnect port on a chiplet, positioned relative to
// the chiplet's lower-left corner in its unrotated orientation.
type PHY struct {
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	FractionBumpArea float64 `json:"fraction_bump_area"` // share of the chiplet's bump area used by this PHY
}

// ChipletType describes one entry of the chiplet catalog.
type ChipletType struct {
	Name               string      `json:"name"`
	Kind               ChipletKind `json:"type"`
	Technology         string      `json:"technology"`
	Dimensions         Dimensions  `json:"dimensions"`
	PHYs               []PHY       `json:"phys"`
	Relay              bool        `json:"relay"`
	UnitCount          int         `json:"unit_count"`
	InternalLatency    float64     `json:"internal_latency"` // cycles
	Power              float64     `json:"power"`            // W
	FractionPowerBumps float64     `json:"fraction_power_bumps"`
}

// Catalog maps chiplet type names to their descriptions.
type Catalog map[string]ChipletType

// ---------------------------------------------------------------------------
// Placement
// ---------------------------------------------------------------------------

// Position is a point on the package substrate in mm.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ChipletInstance places one chiplet of catalog type Name.
// Rotation is in degrees and must be a multiple of 90.
type ChipletInstance struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Rotation int      `json:"rotation"`
}

// IRouterInstance places one interposer router with Ports ports.
type IRouterInstance struct {
	Position Position `json:"position"`
	Ports    int      `json:"ports"`
}

// Placement lists chiplet and interposer-router instances. Instance order is
// significant: it defines node indices in the interconnect graph.
type Placement struct {
	Chiplets []ChipletInstance `json:"chiplets"`
	IRouters []IRouterInstance `json:"interposer_routers"`
}

// ---------------------------------------------------------------------------
// Topology
// ---------------------------------------------------------------------------

// EndpointKind distinguishes chiplet PHY endpoints from interposer-router
// port endpoints.
type EndpointKind string

const (
	EndpointChiplet EndpointKind = "chiplet"
	EndpointIRouter EndpointKind = "irouter"
)

// Endpoint is one side of a link: an instance of the given kind and one of
// its ports (PHY index for chiplets, port index for interposer routers).
type Endpoint struct {
	Kind     EndpointKind `json:"type"`
	Instance int          `json:"outer_id"`
	Port     int          `json:"inner_id"`
}

// Link connects two endpoints. Links are undirected.
type Link struct {
	A Endpoint `json:"ep1"`
	B Endpoint `json:"ep2"`
}

// Topology is the list of links of a design.
type Topology []Link

// ---------------------------------------------------------------------------
// Packaging and technology
// ---------------------------------------------------------------------------

// LinkMetric selects how link length is measured between endpoint positions.
type LinkMetric string

const (
	Manhattan LinkMetric = "manhattan"
	Euclidean LinkMetric = "euclidean"
)

// Packaging describes the package substrate and link model.
type Packaging struct {
	LinkMetric           LinkMetric `json:"link_routing"`
	LinkLatency          Formula    `json:"link_latency"` // cycles as a function of length in mm
	LinkPower            Formula    `json:"link_power"`   // W as a function of length in mm
	PackagingYield       float64    `json:"packaging_yield"`
	HasInterposer        bool       `json:"has_interposer"`
	InterposerTechnology string     `json:"interposer_technology,omitempty"`
	IsActive             bool       `json:"is_active"`
	LatencyIRouter       float64    `json:"latency_irouter"`
	PowerIRouter         float64    `json:"power_irouter"`
	BumpPitch            float64    `json:"bump_pitch"` // mm
	NonDataWires         float64    `json:"non_data_wires"`
}

// Technology holds per-process-node parameters.
type Technology struct {
	PHYLatency    float64 `json:"phy_latency"`
	WaferRadius   float64 `json:"wafer_radius"` // mm
	WaferCost     float64 `json:"wafer_cost"`
	DefectDensity float64 `json:"defect_density"` // defects per mm²
}

// Thermal configures the grid-based thermal relaxation.
type Thermal struct {
	Resolution     float64 `json:"resolution"` // grid cell edge in mm
	KC             float64 `json:"k_c"`        // chiplet power density to temperature
	KI             float64 `json:"k_i"`        // interposer router power to temperature
	KT             float64 `json:"k_t"`        // lateral conduction, must stay below 0.25
	KS             float64 `json:"k_s"`        // side dissipation
	KHS            float64 `json:"k_hs"`       // heat-sink dissipation
	Ambient        float64 `json:"ambient_temperature"`
	Threshold      float64 `json:"threshold"`
	IterationLimit int     `json:"iteration_limit"`
}

// DefaultThermal returns the thermal parameters used when a design does not
// provide its own.
func DefaultThermal() Thermal {
	return Thermal{
		Resolution:     1.0,
		KC:             0.05,
		KI:             0.05,
		KT:             0.2,
		KS:             0.01,
		KHS:            0.01,
		Ambient:        45.0,
		Threshold:      1e-4,
		IterationLimit: 10000,
	}
}

// DefaultPackaging returns a passive-interposer-free packaging with unit
// constant link latency and zero link power.
func DefaultPackaging() Packaging {
	return Packaging{
		LinkMetric:     Manhattan,
		LinkLatency:    Constant(1),
		LinkPower:      Constant(0),
		PackagingYield: 1.0,
		BumpPitch:      0.1,
	}
}

// ---------------------------------------------------------------------------
// Design
// ---------------------------------------------------------------------------

// Design bundles every input needed to build the interconnect graph and
// compute metrics.
type Design struct {
	Name         string                `json:"design_name"`
	Technologies map[string]Technology `json:"technologies"`
	Catalog      Catalog               `json:"chiplets"`
	Placement    Placement             `json:"placement"`
	Topology     Topology              `json:"topology"`
	Packaging    Packaging             `json:"packaging"`
	Thermal      *Thermal              `json:"thermal,omitempty"`
	Traffic      traffic.UnitMatrix    `json:"traffic,omitempty"`
}

// New returns an empty design with default packaging.
func New(name string) *Design {
	return &Design{
		Name:         name,
		Technologies: make(map[string]Technology),
		Catalog:      make(Catalog),
		Packaging:    DefaultPackaging(),
		Traffic:      make(traffic.UnitMatrix),
	}
}

// ChipletType returns the catalog entry of placed chiplet i.
func (d *Design) ChipletType(i int) (ChipletType, bool) {
	if i < 0 || i >= len(d.Placement.Chiplets) {
		return ChipletType{}, false
	}
	ct, ok := d.Catalog[d.Placement.Chiplets[i].Name]
	return ct, ok
}

// ThermalConfig returns the design's thermal parameters or the defaults.
func (d *Design) ThermalConfig() Thermal {
	if d.Thermal != nil {
		return *d.Thermal
	}
	return DefaultThermal()
}

// TrafficEndpoints describes each placed chiplet for the synthetic traffic
// generators. Chiplets whose type is missing from the catalog get one unit.
func (d *Design) TrafficEndpoints() []traffic.Chiplet {
	out := make([]traffic.Chiplet, len(d.Placement.Chiplets))
	for i, inst := range d.Placement.Chiplets {
		ct, ok := d.Catalog[inst.Name]
		if !ok {
			out[i] = traffic.Chiplet{Units: 1}
			continue
		}
		out[i] = traffic.Chiplet{Kind: string(ct.Kind), Units: ct.UnitCount}
	}
	return out
}
