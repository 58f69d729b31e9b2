package eonclos

// desc-topo.go holds the serializable descriptions of a fabric and of an
// experiment run over it, along with the functions that read and write them.
// The file name extension selects the encoding: .yaml/.yml for yaml, .json for json.

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// defaultSpectrumSlots is the link width used when a description leaves it out
const defaultSpectrumSlots = 320

// FabricDesc describes the dimensions of a three-stage Clos fabric
type FabricDesc struct {
	// number of switches in each of the first (W1) and second (W2) stages
	W int `json:"w" yaml:"w"`

	// number of spine switches (S)
	S int `json:"s" yaml:"s"`

	// number of ports on each W1 and W2 switch
	P int `json:"p" yaml:"p"`

	// number of spectrum slots carried by every link
	Slots int `json:"slots" yaml:"slots"`
}

// CreateFabricDesc is a constructor
func CreateFabricDesc(w, s, p, slots int) FabricDesc {
	return FabricDesc{W: w, S: s, P: p, Slots: slots}
}

// Validate checks that every dimension is positive
func (fd FabricDesc) Validate() error {
	errs := []error{}
	if fd.W <= 0 {
		errs = append(errs, errors.Wrapf(ErrConfig, "first/second stage switch count %d", fd.W))
	}
	if fd.S <= 0 {
		errs = append(errs, errors.Wrapf(ErrConfig, "spine switch count %d", fd.S))
	}
	if fd.P <= 0 {
		errs = append(errs, errors.Wrapf(ErrConfig, "ports per switch %d", fd.P))
	}
	if fd.Slots <= 0 {
		errs = append(errs, errors.Wrapf(ErrConfig, "spectrum slots %d", fd.Slots))
	}
	return ReportErrs(errs)
}

// ExpDesc describes one simulation experiment: the fabric, where the traffic
// comes from, and where results are written
type ExpDesc struct {
	// name of the experiment, carried into the trace
	Name string `json:"name" yaml:"name"`

	Fabric FabricDesc `json:"fabric" yaml:"fabric"`

	// traffic record file
	Traffic string `json:"traffic" yaml:"traffic"`

	// optional trace output file
	Trace string `json:"trace,omitempty" yaml:"trace,omitempty"`

	// optional report output file
	Report string `json:"report,omitempty" yaml:"report,omitempty"`

	// names of links whose spectrum is included in the report
	Snapshots []string `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`
}

// CreateExpDesc is a constructor
func CreateExpDesc(name string, fabric FabricDesc, traffic string) *ExpDesc {
	xd := new(ExpDesc)
	xd.Name = name
	xd.Fabric = fabric
	xd.Traffic = traffic
	xd.Snapshots = make([]string, 0)
	return xd
}

// useYAMLFor reports whether the extension of filename selects yaml
func useYAMLFor(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// marshalFor serializes v to yaml or json, selected by the extension of filename
func marshalFor(filename string, v any) ([]byte, error) {
	if useYAMLFor(filename) {
		return yaml.Marshal(v)
	}
	ext := path.Ext(filename)
	if ext == ".json" || ext == ".JSON" {
		return json.MarshalIndent(v, "", "\t")
	}
	return nil, errors.Errorf("file %s has neither a yaml nor a json extension", filename)
}

// WriteToFile serializes the ExpDesc and writes it to the file whose name is given.
func (xd *ExpDesc) WriteToFile(filename string) error {
	bytes, err := marshalFor(filename, *xd)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(filename, bytes, 0o644), "write %s", filename)
}

// ReadExpDesc deserializes an ExpDesc.  If dict is empty the bytes are read from
// the named file.  A zero Slots field is replaced by the default link width,
// then the fabric is validated.
func ReadExpDesc(filename string, useYAML bool, dict []byte) (*ExpDesc, error) {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if os.IsNotExist(serr) || (serr == nil && fileInfo.IsDir()) {
			return nil, errors.Errorf("experiment description %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", filename)
		}
	}

	xd := ExpDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &xd)
	} else {
		err = json.Unmarshal(dict, &xd)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode experiment description %s", filename)
	}

	if xd.Fabric.Slots == 0 {
		xd.Fabric.Slots = defaultSpectrumSlots
	}
	if err := xd.Fabric.Validate(); err != nil {
		return nil, err
	}
	return &xd, nil
}
