package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"github.com/labstack/gommon/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/kernel"
	"github.com/chazu/rapidchiplet/pkg/kernel/sdfx"
	"github.com/chazu/rapidchiplet/pkg/validate"
)

// Output encodings for results.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
	EncodingCBOR    = "cbor"
)

// encodeResult writes v to w in the named encoding. Binary encodings carry
// the same document as JSON: v is marshaled to JSON first so custom
// marshalers (routing tables, infinite numbers) keep their shape.
func encodeResult(w io.Writer, encoding string, v interface{}) error {
	if encoding == EncodingJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "output: json")
	}

	var h codec.Handle
	switch encoding {
	case EncodingMsgpack:
		h = &codec.MsgpackHandle{}
	case EncodingCBOR:
		h = &codec.CborHandle{}
	default:
		return errors.Errorf("output: unknown encoding %q", encoding)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "output: json")
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return errors.Wrap(err, "output: json")
	}
	return errors.Wrapf(codec.NewEncoder(w, h).Encode(tree), "output: %s", encoding)
}

var genericMap = reflect.TypeOf(map[string]interface{}(nil))

// decodeResult reads a document written by encodeResult into a generic
// tree. Tests use it to check the binary encodings.
func decodeResult(r io.Reader, encoding string) (interface{}, error) {
	var h codec.Handle
	switch encoding {
	case EncodingJSON:
		jh := &codec.JsonHandle{}
		jh.MapType = genericMap
		h = jh
	case EncodingMsgpack:
		mh := &codec.MsgpackHandle{}
		mh.RawToString = true
		mh.MapType = genericMap
		h = mh
	case EncodingCBOR:
		ch := &codec.CborHandle{}
		ch.MapType = genericMap
		h = ch
	default:
		return nil, errors.Errorf("output: unknown encoding %q", encoding)
	}
	var tree interface{}
	if err := codec.NewDecoder(r, h).Decode(&tree); err != nil {
		return nil, errors.Wrapf(err, "output: %s", encoding)
	}
	return tree, nil
}

// writeModel tessellates the package model of d and writes it to path as
// ASCII STL, or as the JSON mesh when path ends in .json.
func writeModel(path string, d *design.Design, cells int) error {
	k := &sdfx.SdfxKernel{Cells: cells}
	solid, err := kernel.BuildPackage(k, d, kernel.DefaultModelOptions())
	if err != nil {
		return errors.Wrap(err, "output: model")
	}
	mesh, err := k.ToMesh(solid)
	if err != nil {
		return errors.Wrap(err, "output: model")
	}
	mesh.Name = d.Name

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == ".json" {
		err = json.NewEncoder(f).Encode(mesh)
	} else {
		err = mesh.WriteSTL(f)
	}
	if err != nil {
		f.Close()
		return errors.Wrap(err, "output: model")
	}
	return f.Close()
}

// Color modes for findings output.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// reporter prints findings and pipeline errors for humans.
type reporter struct {
	clr *color.Color
	out io.Writer
}

// newReporter writes to f, coloring only when f is a terminal in auto mode.
func newReporter(f *os.File, mode string) *reporter {
	clr := color.New()
	out := colorable.NewColorable(f)
	clr.SetOutput(out)
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	switch {
	case mode == ColorAlways:
		clr.Enable()
	case mode == ColorNever, !tty:
		clr.Disable()
	default:
		clr.Enable()
	}
	return &reporter{clr: clr, out: out}
}

func (r *reporter) findings(fs []validate.Finding) {
	for _, f := range fs {
		tag := r.clr.Yellow(f.Severity.String())
		if f.Severity == validate.SeverityError {
			tag = r.clr.Red(f.Severity.String())
		}
		subject := ""
		if f.Subject != "" {
			subject = r.clr.Bold(f.Subject) + ": "
		}
		fmt.Fprintf(r.out, "%s %s %s%s\n", tag, r.clr.Dim("["+f.Code+"]"), subject, f.Message)
	}
}

func (r *reporter) errors(es []EvalErrorData) {
	for _, e := range es {
		where := e.Stage
		if e.Line > 0 {
			where = fmt.Sprintf("%s line %d", e.Stage, e.Line)
		}
		fmt.Fprintf(r.out, "%s %s: %s\n", r.clr.Red("error"), where, e.Message)
	}
}

func (r *reporter) summary(res *EvalResult) {
	status := r.clr.Green("ok")
	if !res.OK() {
		status = r.clr.Red("failed")
	}
	fmt.Fprintf(r.out, "%s %s (run %s)\n", status, res.Design, res.RunID)
}
