package design

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// Load decodes a JSON design document. Missing maps are initialized and a
// zero-valued packaging section is replaced with DefaultPackaging.
func Load(r io.Reader) (*Design, error) {
	var d Design
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(err, "design: decode")
	}
	d.fill()
	return &d, nil
}

// LoadFile reads and decodes the JSON design document at path.
func LoadFile(path string) (*Design, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "design: open")
	}
	defer f.Close()
	d, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "design: %s", path)
	}
	return d, nil
}

// Save writes d as indented JSON.
func (d *Design) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(d), "design: encode")
}

func (d *Design) fill() {
	if d.Technologies == nil {
		d.Technologies = make(map[string]Technology)
	}
	if d.Catalog == nil {
		d.Catalog = make(Catalog)
	}
	if d.Traffic == nil {
		d.Traffic = make(traffic.UnitMatrix)
	}
	if d.Packaging == (Packaging{}) {
		d.Packaging = DefaultPackaging()
	}
	// Catalog entries may omit their name; the map key is authoritative.
	for name, ct := range d.Catalog {
		if ct.Name == "" {
			ct.Name = name
			d.Catalog[name] = ct
		}
	}
}
