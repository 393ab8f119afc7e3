// Package checkpoint persists the inputs of a multigrid solve so it can be
// reproduced offline. A checkpoint is a directory holding header.yaml and
// one FAB file per AMR level for the initial solution and the rhs.
package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/notargets/amrmg/fabio"
	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
)

// Version is the header layout version written by this package
const Version = 1

const headerFile = "header.yaml"

// ErrChecksum is returned by Read when a field file does not match the
// checksum recorded in the header.
var ErrChecksum = errors.New("checkpoint: checksum mismatch")

// Header describes a checkpoint
type Header struct {
	RunID   string    `yaml:"run_id"`
	Version int       `yaml:"version"`
	Created time.Time `yaml:"created"`

	TolRel float64 `yaml:"tol_rel"`
	TolAbs float64 `yaml:"tol_abs"`
	// Solver is the solver configuration, kept as a YAML node so this
	// package does not depend on its type.
	Solver yaml.Node `yaml:"solver"`

	Format      string            `yaml:"format"`
	Ordering    string            `yaml:"ordering"`
	Levels      []Level           `yaml:"levels"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// Level describes the fields of one AMR level
type Level struct {
	Domain   grid.Box   `yaml:"domain"`
	Boxes    []grid.Box `yaml:"boxes"`
	NGhost   int        `yaml:"nghost"`
	RefRatio int        `yaml:"ref_ratio,omitempty"` // to the next finer level
	SolFile  string     `yaml:"sol_file"`
	RhsFile  string     `yaml:"rhs_file"`
	SolSum   string     `yaml:"sol_sha256"`
	RhsSum   string     `yaml:"rhs_sha256"`
}

// DecodeSolver decodes the solver configuration into v
func (h *Header) DecodeSolver(v any) error {
	if h.Solver.Kind == 0 {
		return nil
	}
	return h.Solver.Decode(v)
}

// Inputs are the data of one solve
type Inputs struct {
	TolRel, TolAbs float64
	Solver         any
	Sol, Rhs       []*field.MultiFab
	// RefRatios[a] is the ratio between AMR levels a and a+1
	RefRatios   []int
	Annotations map[string]string
	// Fab selects the field encoding; the zero value is ASCII
	Fab fabio.Options
}

// Checkpoint is what Read restores
type Checkpoint struct {
	Header   *Header
	Sol, Rhs []*field.MultiFab
}

// Write creates dir if needed and writes in to it
func Write(dir string, in Inputs) (*Header, error) {
	if len(in.Sol) == 0 || len(in.Sol) != len(in.Rhs) {
		return nil, fmt.Errorf("checkpoint: %d solution and %d rhs levels", len(in.Sol), len(in.Rhs))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	h := &Header{
		RunID:       uuid.NewString(),
		Version:     Version,
		Created:     time.Now().UTC(),
		TolRel:      in.TolRel,
		TolAbs:      in.TolAbs,
		Format:      in.Fab.Format.String(),
		Ordering:    in.Fab.Ordering.String(),
		Annotations: in.Annotations,
	}
	if in.Solver != nil {
		if err := h.Solver.Encode(in.Solver); err != nil {
			return nil, fmt.Errorf("checkpoint: encode solver config: %w", err)
		}
	}

	for a := range in.Sol {
		lay := in.Sol[a].Layout
		lev := Level{
			Domain:  lay.Domain,
			Boxes:   lay.Boxes,
			NGhost:  in.Sol[a].NGhost,
			SolFile: fmt.Sprintf("sol_%d.fab", a),
			RhsFile: fmt.Sprintf("rhs_%d.fab", a),
		}
		if a < len(in.RefRatios) {
			lev.RefRatio = in.RefRatios[a]
		}
		var err error
		if lev.SolSum, err = writeField(filepath.Join(dir, lev.SolFile), in.Sol[a], in.Fab); err != nil {
			return nil, err
		}
		if lev.RhsSum, err = writeField(filepath.Join(dir, lev.RhsFile), in.Rhs[a], in.Fab); err != nil {
			return nil, err
		}
		h.Levels = append(h.Levels, lev)
	}

	data, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, headerFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return h, nil
}

func writeField(path string, mf *field.MultiFab, opts fabio.Options) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	sum := sha256.New()
	if err := fabio.WriteMultiFab(io.MultiWriter(f, sum), mf, opts); err != nil {
		return "", fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Read restores a checkpoint written by Write
func Read(dir string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, headerFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	h := new(Header)
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("checkpoint: parse header: %w", err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", h.Version)
	}

	cp := &Checkpoint{Header: h}
	for a, lev := range h.Levels {
		layout, err := grid.NewLayout(lev.Domain, lev.Boxes)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: level %d: %w", a, err)
		}
		sol, err := readField(filepath.Join(dir, lev.SolFile), lev.SolSum, layout, lev.NGhost)
		if err != nil {
			return nil, err
		}
		rhs, err := readField(filepath.Join(dir, lev.RhsFile), lev.RhsSum, layout, -1)
		if err != nil {
			return nil, err
		}
		cp.Sol = append(cp.Sol, sol)
		cp.Rhs = append(cp.Rhs, rhs)
	}
	return cp, nil
}

// readField reads a MultiFab on layout. A negative ng takes the ghost width
// from the file.
func readField(path, want string, layout *grid.Layout, ng int) (*field.MultiFab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); want != "" && got != want {
		return nil, fmt.Errorf("%w: %s", ErrChecksum, path)
	}

	fabs, err := fabio.NewReader(bytes.NewReader(data)).ReadMultiFab()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	if len(fabs) != layout.NumPatches() {
		return nil, fmt.Errorf("checkpoint: %s holds %d patches, layout has %d", path, len(fabs), layout.NumPatches())
	}
	if ng < 0 {
		ng = fabs[0].NGhost
	}
	mf := field.NewMultiFab(layout, ng)
	for p, fab := range fabs {
		if fab.Box != layout.Boxes[p] || fab.NGhost != ng {
			return nil, fmt.Errorf("checkpoint: %s patch %d is %v with %d ghosts", path, p, fab.Box, fab.NGhost)
		}
		copy(mf.Patches[p].Data, fab.Data)
	}
	return mf, nil
}
