package engine

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms design source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: chiplet-ep -> chiplet_ep
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpPHY wraps a design.PHY so it can be returned from `phy` and consumed
// by `chiplet`.
type sexpPHY struct {
	phy design.PHY
}

func (p *sexpPHY) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(phy %g %g :bump-area %g)", p.phy.X, p.phy.Y, p.phy.FractionBumpArea)
}
func (p *sexpPHY) Type() *zygo.RegisteredType { return nil }

// sexpEndpoint wraps one side of a link.
type sexpEndpoint struct {
	ep design.Endpoint
}

func (e *sexpEndpoint) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s-ep %d %d)", e.ep.Kind, e.ep.Instance, e.ep.Port)
}
func (e *sexpEndpoint) Type() *zygo.RegisteredType { return nil }

// sexpFormula wraps a design.Formula for :link-latency and :link-power.
type sexpFormula struct {
	f design.Formula
}

func (f *sexpFormula) SexpString(ps *zygo.PrintState) string {
	switch f.f.Kind {
	case design.FormulaLinear:
		return fmt.Sprintf("(formula :offset %g :coef %g)", f.f.Offset, f.f.Coef)
	case design.FormulaPowerLaw:
		return fmt.Sprintf("(formula :offset %g :coef %g :exponent %g)", f.f.Offset, f.f.Coef, f.f.Exponent)
	}
	return fmt.Sprintf("(formula :value %g)", f.f.Value)
}
func (f *sexpFormula) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value â€” treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt extracts an int from a SexpInt, or from a SexpFloat holding a
// whole number.
func toInt(s zygo.Sexp) (int, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return int(v.Val), nil
	case *zygo.SexpFloat:
		if v.Val == math.Trunc(v.Val) {
			return int(v.Val), nil
		}
		return 0, fmt.Errorf("expected integer, got %g", v.Val)
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toBool extracts a bool from a SexpBool.
func toBool(s zygo.Sexp) (bool, error) {
	if b, ok := s.(*zygo.SexpBool); ok {
		return b.Val, nil
	}
	return false, fmt.Errorf("expected true or false, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_z) and plain strings ("z").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toFormula accepts a (formula ...) value or a plain number, which becomes a
// constant formula.
func toFormula(s zygo.Sexp) (design.Formula, error) {
	if f, ok := s.(*sexpFormula); ok {
		return f.f, nil
	}
	v, err := toFloat64(s)
	if err != nil {
		return design.Formula{}, fmt.Errorf("expected formula or number, got %T (%s)", s, s.SexpString(nil))
	}
	return design.Constant(v), nil
}

// toEndpoint extracts a link endpoint from a sexpEndpoint.
func toEndpoint(s zygo.Sexp) (design.Endpoint, error) {
	if e, ok := s.(*sexpEndpoint); ok {
		return e.ep, nil
	}
	return design.Endpoint{}, fmt.Errorf("expected chiplet-ep or irouter-ep, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// toKeywordList converts a list of keywords or strings to names.
func toKeywordList(s zygo.Sexp) ([]string, error) {
	items, err := sexpListToSlice(s)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		name, err := toKeywordString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Keyword readers
// ---------------------------------------------------------------------------

// argReader reads keyword arguments of one builtin call into Go values. The
// first failure is kept and later reads become no-ops, so a builtin can read
// all of its keywords and check err once.
type argReader struct {
	fn   string
	args kwArgs
	err  error
}

func newArgReader(fn string, args []zygo.Sexp, allowed ...string) *argReader {
	r := &argReader{fn: fn, args: parseArgs(args)}
	for _, k := range sortedKeywords(r.args.kw) {
		if !slices.Contains(allowed, k) {
			r.err = fmt.Errorf("%s: unknown keyword :%s", fn, k)
			break
		}
	}
	return r
}

func sortedKeywords(kw map[string]zygo.Sexp) []string {
	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *argReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: %s: %w", r.fn, key, err)
	}
}

func (r *argReader) lookup(key string) (zygo.Sexp, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.args.kw[key]
	return v, ok
}

func (r *argReader) floatArg(key string, dst *float64) {
	if v, ok := r.lookup(key); ok {
		f, err := toFloat64(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = f
	}
}

func (r *argReader) intArg(key string, dst *int) {
	if v, ok := r.lookup(key); ok {
		n, err := toInt(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = n
	}
}

func (r *argReader) boolArg(key string, dst *bool) {
	if v, ok := r.lookup(key); ok {
		b, err := toBool(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = b
	}
}

func (r *argReader) stringArg(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		s, err := toString(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = s
	}
}

func (r *argReader) keywordArg(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		s, err := toKeywordString(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = s
	}
}

func (r *argReader) formulaArg(key string, dst *design.Formula) {
	if v, ok := r.lookup(key); ok {
		f, err := toFormula(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = f
	}
}

func (r *argReader) keywordsArg(key string, dst *[]string) {
	if v, ok := r.lookup(key); ok {
		names, err := toKeywordList(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = names
	}
}

// positionalInts reads exactly n integer positional arguments.
func (r *argReader) positionalInts(n int, names ...string) []int {
	if r.err != nil {
		return nil
	}
	if len(r.args.positional) != n {
		r.err = fmt.Errorf("%s requires %s", r.fn, strings.Join(names, ", "))
		return nil
	}
	out := make([]int, n)
	for i, s := range r.args.positional {
		v, err := toInt(s)
		if err != nil {
			r.fail(names[i], err)
			return nil
		}
		out[i] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

func sexpInt(n int) zygo.Sexp { return &zygo.SexpInt{Val: int64(n)} }

// registerBuiltins installs all design DSL builtins into a zygomys
// environment. The builtins populate tr's design during evaluation, and tr
// records each call so a stalled evaluation can say how far it got.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, tr *tracker) {
	d := tr.design

	// -----------------------------------------------------------------------
	// (design-name "mesh-4x4")
	// -----------------------------------------------------------------------
	tr.add(env, "design_name", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("design-name requires exactly one name argument")
		}
		n, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("design-name: %w", err)
		}
		d.Name = n
		return args[0], nil
	})

	// -----------------------------------------------------------------------
	// (technology "7nm" :phy-latency 2 :wafer-radius 150 :wafer-cost 10000
	//             :defect-density 0.001)
	// -----------------------------------------------------------------------
	tr.add(env, "technology", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("technology", args, "phy-latency", "wafer-radius", "wafer-cost", "defect-density")
		if r.err == nil && len(r.args.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("technology requires a name argument")
		}
		var tech design.Technology
		r.floatArg("phy-latency", &tech.PHYLatency)
		r.floatArg("wafer-radius", &tech.WaferRadius)
		r.floatArg("wafer-cost", &tech.WaferCost)
		r.floatArg("defect-density", &tech.DefectDensity)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		techName, err := toString(r.args.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("technology: name: %w", err)
		}
		d.Technologies[techName] = tech
		return r.args.positional[0], nil
	})

	// -----------------------------------------------------------------------
	// (phy 1.0 0.0 :bump-area 0.25)
	// -----------------------------------------------------------------------
	tr.add(env, "phy", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("phy", args, "bump-area")
		var p design.PHY
		r.floatArg("bump-area", &p.FractionBumpArea)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		if len(r.args.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("phy requires x and y, got %d positional arguments", len(r.args.positional))
		}
		x, err := toFloat64(r.args.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("phy: x: %w", err)
		}
		y, err := toFloat64(r.args.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("phy: y: %w", err)
		}
		p.X, p.Y = x, y
		return &sexpPHY{phy: p}, nil
	})

	// -----------------------------------------------------------------------
	// (chiplet "compute" :kind :compute :technology "7nm" :width 2 :height 2
	//          :relay true :units 4 :internal-latency 3 :power 4
	//          :power-bumps 0.5 :phys (list (phy 1 0 :bump-area 0.25) ...))
	// -----------------------------------------------------------------------
	tr.add(env, "chiplet", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("chiplet", args, "kind", "technology", "width", "height", "relay",
			"units", "internal-latency", "power", "power-bumps", "phys")
		if r.err == nil && len(r.args.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("chiplet requires a name argument")
		}
		ct := design.ChipletType{UnitCount: 1}
		var kind string
		r.keywordArg("kind", &kind)
		r.stringArg("technology", &ct.Technology)
		r.floatArg("width", &ct.Dimensions.X)
		r.floatArg("height", &ct.Dimensions.Y)
		r.boolArg("relay", &ct.Relay)
		r.intArg("units", &ct.UnitCount)
		r.floatArg("internal-latency", &ct.InternalLatency)
		r.floatArg("power", &ct.Power)
		r.floatArg("power-bumps", &ct.FractionPowerBumps)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		ct.Kind = design.ChipletKind(kind)

		typeName, err := toString(r.args.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("chiplet: name: %w", err)
		}
		ct.Name = typeName

		if v, ok := r.args.kw["phys"]; ok {
			items, err := sexpListToSlice(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("chiplet: phys: %w", err)
			}
			for i, item := range items {
				p, ok := item.(*sexpPHY)
				if !ok {
					return zygo.SexpNull, fmt.Errorf("chiplet: phys: entry %d: expected phy, got %T (%s)",
						i, item, item.SexpString(nil))
				}
				ct.PHYs = append(ct.PHYs, p.phy)
			}
		}

		d.Catalog[typeName] = ct
		return r.args.positional[0], nil
	})

	// -----------------------------------------------------------------------
	// (place "compute" :x 0 :y 0 :rotation 90)  ; returns the chiplet index
	// -----------------------------------------------------------------------
	tr.add(env, "place", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("place", args, "x", "y", "rotation")
		var inst design.ChipletInstance
		r.floatArg("x", &inst.Position.X)
		r.floatArg("y", &inst.Position.Y)
		r.intArg("rotation", &inst.Rotation)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		if len(r.args.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("place requires a chiplet type name as first argument")
		}
		typeName, err := toString(r.args.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("place: type: %w", err)
		}
		if _, ok := d.Catalog[typeName]; !ok {
			return zygo.SexpNull, fmt.Errorf("place: no chiplet type named %q", typeName)
		}
		inst.Name = typeName
		d.Placement.Chiplets = append(d.Placement.Chiplets, inst)
		return sexpInt(len(d.Placement.Chiplets) - 1), nil
	})

	// -----------------------------------------------------------------------
	// (irouter :x 1 :y 6 :ports 4)  ; returns the interposer-router index
	// -----------------------------------------------------------------------
	tr.add(env, "irouter", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("irouter", args, "x", "y", "ports")
		var ir design.IRouterInstance
		r.floatArg("x", &ir.Position.X)
		r.floatArg("y", &ir.Position.Y)
		r.intArg("ports", &ir.Ports)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		if len(r.args.positional) != 0 {
			return zygo.SexpNull, fmt.Errorf("irouter takes only keyword arguments")
		}
		d.Placement.IRouters = append(d.Placement.IRouters, ir)
		return sexpInt(len(d.Placement.IRouters) - 1), nil
	})

	// -----------------------------------------------------------------------
	// (chiplet-ep 0 1) / (irouter-ep 0 3)
	// -----------------------------------------------------------------------
	endpoint := func(kind design.EndpointKind, fn string) func(*zygo.Zlisp, string, []zygo.Sexp) (zygo.Sexp, error) {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			r := newArgReader(fn, args)
			v := r.positionalInts(2, "instance", "port")
			if r.err != nil {
				return zygo.SexpNull, r.err
			}
			return &sexpEndpoint{ep: design.Endpoint{Kind: kind, Instance: v[0], Port: v[1]}}, nil
		}
	}
	tr.add(env, "chiplet_ep", endpoint(design.EndpointChiplet, "chiplet-ep"))
	tr.add(env, "irouter_ep", endpoint(design.EndpointIRouter, "irouter-ep"))

	// -----------------------------------------------------------------------
	// (link (chiplet-ep 0 0) (irouter-ep 0 1))  ; returns the link index
	// -----------------------------------------------------------------------
	tr.add(env, "link", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("link requires exactly two endpoints, got %d", len(args))
		}
		a, err := toEndpoint(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("link: first endpoint: %w", err)
		}
		b, err := toEndpoint(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("link: second endpoint: %w", err)
		}
		d.Topology = append(d.Topology, design.Link{A: a, B: b})
		return sexpInt(len(d.Topology) - 1), nil
	})

	// -----------------------------------------------------------------------
	// (formula :value 1)                         ; constant
	// (formula :offset 0 :coef 0.5)              ; linear
	// (formula :offset 0 :coef 0.5 :exponent 2)  ; power law
	// -----------------------------------------------------------------------
	tr.add(env, "formula", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("formula", args, "kind", "value", "offset", "coef", "exponent")
		var f design.Formula
		var kind string
		r.keywordArg("kind", &kind)
		r.floatArg("value", &f.Value)
		r.floatArg("offset", &f.Offset)
		r.floatArg("coef", &f.Coef)
		r.floatArg("exponent", &f.Exponent)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		if len(r.args.positional) != 0 {
			return zygo.SexpNull, fmt.Errorf("formula takes only keyword arguments")
		}
		_, hasExp := r.args.kw["exponent"]
		_, hasCoef := r.args.kw["coef"]
		switch {
		case kind != "":
			f.Kind = design.FormulaKind(kind)
		case hasExp:
			f.Kind = design.FormulaPowerLaw
		case hasCoef:
			f.Kind = design.FormulaLinear
		default:
			f.Kind = design.FormulaConstant
		}
		if err := f.Check("formula"); err != nil {
			return zygo.SexpNull, err
		}
		return &sexpFormula{f: f}, nil
	})

	// -----------------------------------------------------------------------
	// (packaging :link-routing :manhattan :link-latency (formula ...)
	//            :link-power 0.1 :yield 0.99 :interposer true
	//            :interposer-technology "65nm" :active true
	//            :latency-irouter 1 :power-irouter 0.5
	//            :bump-pitch 0.1 :non-data-wires 10)
	// -----------------------------------------------------------------------
	tr.add(env, "packaging", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("packaging", args, "link-routing", "link-latency", "link-power", "yield",
			"interposer", "interposer-technology", "active", "latency-irouter", "power-irouter",
			"bump-pitch", "non-data-wires")
		p := d.Packaging
		metric := string(p.LinkMetric)
		r.keywordArg("link-routing", &metric)
		r.formulaArg("link-latency", &p.LinkLatency)
		r.formulaArg("link-power", &p.LinkPower)
		r.floatArg("yield", &p.PackagingYield)
		r.boolArg("interposer", &p.HasInterposer)
		r.stringArg("interposer-technology", &p.InterposerTechnology)
		r.boolArg("active", &p.IsActive)
		r.floatArg("latency-irouter", &p.LatencyIRouter)
		r.floatArg("power-irouter", &p.PowerIRouter)
		r.floatArg("bump-pitch", &p.BumpPitch)
		r.floatArg("non-data-wires", &p.NonDataWires)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		p.LinkMetric = design.LinkMetric(metric)
		d.Packaging = p
		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (thermal :resolution 0.5 :k-c 0.05 :k-i 0.05 :k-t 0.2 :k-s 0.01
	//          :k-hs 0.01 :ambient 45 :threshold 1e-4 :iteration-limit 1000)
	// -----------------------------------------------------------------------
	tr.add(env, "thermal", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("thermal", args, "resolution", "k-c", "k-i", "k-t", "k-s", "k-hs",
			"ambient", "threshold", "iteration-limit")
		th := d.ThermalConfig()
		r.floatArg("resolution", &th.Resolution)
		r.floatArg("k-c", &th.KC)
		r.floatArg("k-i", &th.KI)
		r.floatArg("k-t", &th.KT)
		r.floatArg("k-s", &th.KS)
		r.floatArg("k-hs", &th.KHS)
		r.floatArg("ambient", &th.Ambient)
		r.floatArg("threshold", &th.Threshold)
		r.intArg("iteration-limit", &th.IterationLimit)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		d.Thermal = &th
		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (flow 0 0 1 2 :rate 0.5)  ; chiplet 0 unit 0 -> chiplet 1 unit 2
	// -----------------------------------------------------------------------
	tr.add(env, "flow", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("flow", args, "rate")
		rate := 1.0
		r.floatArg("rate", &rate)
		v := r.positionalInts(4, "source chiplet", "source unit", "destination chiplet", "destination unit")
		if r.err != nil {
			return zygo.SexpNull, r.err
		}
		p := traffic.Pair{
			Src: traffic.UnitID{Chiplet: v[0], Unit: v[1]},
			Dst: traffic.UnitID{Chiplet: v[2], Unit: v[3]},
		}
		d.Traffic[p] += rate
		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (traffic :pattern :uniform :send (list :compute) :recv (list :memory))
	// (traffic :pattern :transpose)
	// (traffic :pattern :permutation :seed 3)
	// (traffic :pattern :hotspot :seed 3 :count 2 :share 0.5 :scale 0.1)
	//
	// Patterns draw on the chiplets placed so far and add to existing flows.
	// -----------------------------------------------------------------------
	tr.add(env, "traffic", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		r := newArgReader("traffic", args, "pattern", "send", "recv", "seed", "count", "share", "scale")
		var pattern string
		send := []string{string(design.KindCompute)}
		recv := []string{string(design.KindCompute), string(design.KindMemory), string(design.KindIO)}
		seed, count := 0, 1
		share, scale := 0.5, 1.0
		r.keywordArg("pattern", &pattern)
		r.keywordsArg("send", &send)
		r.keywordsArg("recv", &recv)
		r.intArg("seed", &seed)
		r.intArg("count", &count)
		r.floatArg("share", &share)
		r.floatArg("scale", &scale)
		if r.err != nil {
			return zygo.SexpNull, r.err
		}

		chiplets := d.TrafficEndpoints()
		rng := rand.New(rand.NewSource(int64(seed)))
		var m traffic.UnitMatrix
		var err error
		switch pattern {
		case "uniform":
			m = traffic.RandomUniform(chiplets, send, recv)
		case "transpose":
			m, err = traffic.Transpose(chiplets)
		case "permutation":
			m, err = traffic.Permutation(chiplets, rng)
		case "hotspot":
			m, err = traffic.Hotspot(chiplets, rng, count, share)
		case "":
			return zygo.SexpNull, fmt.Errorf("traffic requires :pattern")
		default:
			return zygo.SexpNull, fmt.Errorf("traffic: unknown pattern %q, expected uniform, transpose, permutation, or hotspot", pattern)
		}
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("traffic: %w", err)
		}
		for p, rate := range m {
			d.Traffic[p] += rate * scale
		}
		return sexpInt(len(m)), nil
	})
}
