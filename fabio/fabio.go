// Package fabio serializes FABs. Every call takes its Options explicitly;
// the package holds no format, precision, or byte-order state.
//
// A FAB is written as one header line
//
//	FAB <format> <ordering> <lo_x> <lo_y> <hi_x> <hi_y> <nghost> [<min> <max>]
//
// followed by the data of the grown box, x fastest. min and max appear
// only for the 8-bit format.
package fabio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/notargets/amrmg/field"
	"github.com/notargets/amrmg/grid"
)

// Format is the on-disk representation of each value
type Format uint8

const (
	FormatASCII    Format = iota
	FormatNative          // float64, host byte order
	FormatNative32        // float32, host byte order
	FormatIEEE32          // float32, big endian
	Format8Bit            // one byte scaled between the FAB min and max
)

var formatNames = [...]string{"ascii", "native", "native32", "ieee32", "8bit"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat is the inverse of Format.String
func ParseFormat(s string) (Format, error) {
	for k, n := range formatNames {
		if n == s {
			return Format(k), nil
		}
	}
	return 0, fmt.Errorf("fabio: unknown format %q", s)
}

// Ordering reverses the byte order of the binary formats when Reverse
type Ordering uint8

const (
	OrderingNormal Ordering = iota
	OrderingReverse
)

func (o Ordering) String() string {
	if o == OrderingReverse {
		return "reverse"
	}
	return "normal"
}

// Options selects how FABs are written
type Options struct {
	Format   Format
	Ordering Ordering
}

// DefaultOptions writes full-precision values in host byte order
func DefaultOptions() Options {
	return Options{Format: FormatNative, Ordering: OrderingNormal}
}

func (o Options) byteOrder() binary.ByteOrder {
	var bo binary.ByteOrder = binary.NativeEndian
	if o.Format == FormatIEEE32 {
		bo = binary.BigEndian
	}
	if o.Ordering == OrderingReverse {
		if isBig(bo) {
			return binary.LittleEndian
		}
		return binary.BigEndian
	}
	return bo
}

func isBig(bo binary.ByteOrder) bool {
	var b [2]byte
	bo.PutUint16(b[:], 1)
	return b[1] == 1
}

// Write writes fab, ghosts included
func Write(w io.Writer, fab *field.FAB, opts Options) error {
	g := fab.GrownBox()
	header := fmt.Sprintf("FAB %v %v %d %d %d %d %d",
		opts.Format, opts.Ordering, g.Lo[0], g.Lo[1], g.Hi[0], g.Hi[1], fab.NGhost)

	lo, hi := 0.0, 0.0
	if opts.Format == Format8Bit {
		lo, hi = minMax(fab.Data)
		header += " " + strconv.FormatFloat(lo, 'g', -1, 64) + " " + strconv.FormatFloat(hi, 'g', -1, 64)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return err
	}

	bo := opts.byteOrder()
	var buf [8]byte
	for _, v := range fab.Data {
		var err error
		switch opts.Format {
		case FormatASCII:
			_, err = bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + "\n")
		case FormatNative:
			bo.PutUint64(buf[:], math.Float64bits(v))
			_, err = bw.Write(buf[:8])
		case FormatNative32, FormatIEEE32:
			bo.PutUint32(buf[:], math.Float32bits(float32(v)))
			_, err = bw.Write(buf[:4])
		case Format8Bit:
			err = bw.WriteByte(scale8(v, lo, hi))
		default:
			return fmt.Errorf("fabio: cannot write format %v", opts.Format)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func minMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func scale8(v, lo, hi float64) byte {
	if hi <= lo {
		return 0
	}
	return byte(math.Round(255 * (v - lo) / (hi - lo)))
}

// header is the parsed first line of a FAB
type header struct {
	opts   Options
	box    grid.Box // grown box
	ng     int
	lo, hi float64
}

func (h header) valueSize() int {
	switch h.opts.Format {
	case FormatNative:
		return 8
	case FormatNative32, FormatIEEE32:
		return 4
	case Format8Bit:
		return 1
	}
	return 0
}

// Reader reads consecutive FABs from a stream
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

func (rd *Reader) header() (header, error) {
	var h header
	line, err := rd.r.ReadString('\n')
	if err != nil {
		return h, err
	}
	var fs, os string
	n, err := fmt.Sscan(line, new(string), &fs, &os,
		&h.box.Lo[0], &h.box.Lo[1], &h.box.Hi[0], &h.box.Hi[1], &h.ng)
	if err != nil || n != 8 {
		return h, fmt.Errorf("fabio: bad header %q: %v", line, err)
	}
	if h.opts.Format, err = ParseFormat(fs); err != nil {
		return h, err
	}
	if os == "reverse" {
		h.opts.Ordering = OrderingReverse
	}
	if h.opts.Format == Format8Bit {
		var skip [8]string
		if _, err := fmt.Sscan(line, &skip[0], &skip[1], &skip[2], &skip[3], &skip[4], &skip[5], &skip[6], &skip[7], &h.lo, &h.hi); err != nil {
			return h, fmt.Errorf("fabio: bad 8-bit header %q: %w", line, err)
		}
	}
	if !h.box.Ok() || h.ng < 0 {
		return h, fmt.Errorf("fabio: bad box in header %q", line)
	}
	return h, nil
}

// Read reads the next FAB
func (rd *Reader) Read() (*field.FAB, error) {
	h, err := rd.header()
	if err != nil {
		return nil, err
	}
	fab := field.NewFAB(h.box.Grow(-h.ng), h.ng)
	if len(fab.Data) != h.box.NumPts() {
		return nil, fmt.Errorf("fabio: box %v does not match ghost width %d", h.box, h.ng)
	}

	if h.opts.Format == FormatASCII {
		for k := range fab.Data {
			line, err := rd.r.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("fabio: value %d: %w", k, err)
			}
			if fab.Data[k], err = strconv.ParseFloat(line[:len(line)-1], 64); err != nil {
				return nil, fmt.Errorf("fabio: value %d: %w", k, err)
			}
		}
		return fab, nil
	}

	bo := h.opts.byteOrder()
	buf := make([]byte, h.valueSize()*len(fab.Data))
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, fmt.Errorf("fabio: data: %w", err)
	}
	for k := range fab.Data {
		switch h.opts.Format {
		case FormatNative:
			fab.Data[k] = math.Float64frombits(bo.Uint64(buf[8*k:]))
		case FormatNative32, FormatIEEE32:
			fab.Data[k] = float64(math.Float32frombits(bo.Uint32(buf[4*k:])))
		case Format8Bit:
			fab.Data[k] = h.lo + float64(buf[k])*(h.hi-h.lo)/255
		}
	}
	return fab, nil
}

// Skip moves past the next FAB without decoding it
func (rd *Reader) Skip() error {
	h, err := rd.header()
	if err != nil {
		return err
	}
	n := h.box.NumPts()
	if h.opts.Format == FormatASCII {
		for k := 0; k < n; k++ {
			if _, err := rd.r.ReadString('\n'); err != nil {
				return err
			}
		}
		return nil
	}
	_, err = rd.r.Discard(h.valueSize() * n)
	return err
}

// WriteMultiFab writes a patch count line then every patch
func WriteMultiFab(w io.Writer, mf *field.MultiFab, opts Options) error {
	if _, err := fmt.Fprintf(w, "MULTIFAB %d\n", len(mf.Patches)); err != nil {
		return err
	}
	for p, fab := range mf.Patches {
		if err := Write(w, fab, opts); err != nil {
			return fmt.Errorf("fabio: patch %d: %w", p, err)
		}
	}
	return nil
}

// ReadMultiFab reads what WriteMultiFab wrote
func (rd *Reader) ReadMultiFab() ([]*field.FAB, error) {
	line, err := rd.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var n int
	if _, err := fmt.Sscanf(line, "MULTIFAB %d\n", &n); err != nil {
		return nil, fmt.Errorf("fabio: bad multifab header %q: %w", line, err)
	}
	fabs := make([]*field.FAB, n)
	for p := range fabs {
		if fabs[p], err = rd.Read(); err != nil {
			return nil, fmt.Errorf("fabio: patch %d: %w", p, err)
		}
	}
	return fabs, nil
}
