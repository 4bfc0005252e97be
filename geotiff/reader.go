package geotiff

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TIFF tags carrying the georeferencing metadata.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKey IDs inside the GeoKeyDirectory.
const (
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	geoKeyUserDefined = 32767
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

var typeSizes = map[uint16]uint32{
	typeByte:   1,
	typeASCII:  1,
	typeShort:  2,
	typeLong:   4,
	typeDouble: 8,
}

// GeoRef holds the georeferencing metadata of one raster: its pixel
// dimensions, the pixel-to-world transform, the coordinate system code and
// the nodata marker, when present.
type GeoRef struct {
	Width  int
	Height int
	// Transform maps pixel to world coordinates. Identity when the raster
	// carries no georeferencing, matching what rasterio reports for a bare
	// image.
	Transform Affine
	// EPSG is the projected (preferred) or geographic CS code, 0 if the
	// file does not declare one.
	EPSG int
	// NoData is the sample value marking pixels outside the surveyed
	// footprint, nil if undeclared.
	NoData *float64
}

type ifdEntry struct {
	fieldType uint16
	count     uint32
	raw       [4]byte
}

type parser struct {
	r     io.ReadSeeker
	order binary.ByteOrder
}

// Read extracts the georeferencing metadata from a TIFF file. Only the
// first IFD is inspected; overviews and masks live in later IFDs and do not
// change the placement of the full-resolution raster.
func Read(path string) (*GeoRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening raster")
	}
	defer f.Close()

	ref, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return ref, nil
}

// Decode reads the georeferencing metadata from an open TIFF stream.
func Decode(r io.ReadSeeker) (*GeoRef, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Wrap(err, "reading TIFF header")
	}

	var order binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}

	switch magic := order.Uint16(header[2:4]); magic {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF rasters are not supported")
	default:
		return nil, errors.Errorf("bad TIFF magic number %d", magic)
	}

	p := &parser{r: r, order: order}
	entries, err := p.readIFD(int64(order.Uint32(header[4:8])))
	if err != nil {
		return nil, err
	}

	ref := &GeoRef{Transform: Identity()}

	if e, ok := entries[tagImageWidth]; ok {
		v, err := p.scalar(e)
		if err != nil {
			return nil, err
		}
		ref.Width = int(v)
	}
	if e, ok := entries[tagImageLength]; ok {
		v, err := p.scalar(e)
		if err != nil {
			return nil, err
		}
		ref.Height = int(v)
	}

	if err := p.readTransform(entries, ref); err != nil {
		return nil, err
	}

	if e, ok := entries[tagGeoKeyDirectory]; ok {
		keys, err := p.shorts(e)
		if err != nil {
			return nil, err
		}
		ref.EPSG = epsgFromGeoKeys(keys)
	}

	if e, ok := entries[tagGDALNoData]; ok {
		s, err := p.ascii(e)
		if err != nil {
			return nil, err
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			ref.NoData = &v
		}
	}

	return ref, nil
}

// readTransform fills ref.Transform from the model tags. A full
// ModelTransformation matrix wins over the scale and tiepoint pair.
func (p *parser) readTransform(entries map[uint16]ifdEntry, ref *GeoRef) error {
	if e, ok := entries[tagModelTransformation]; ok {
		m, err := p.doubles(e)
		if err != nil {
			return err
		}
		if len(m) >= 16 {
			ref.Transform = Affine{
				A: m[0], B: m[1], C: m[3],
				D: m[4], E: m[5], F: m[7],
			}
			return nil
		}
	}

	se, haveScale := entries[tagModelPixelScale]
	te, haveTie := entries[tagModelTiepoint]
	if !haveScale || !haveTie {
		return nil
	}

	scale, err := p.doubles(se)
	if err != nil {
		return err
	}
	tie, err := p.doubles(te)
	if err != nil {
		return err
	}
	if len(scale) < 2 || len(tie) < 6 {
		return nil
	}

	// Tiepoint anchors raster position (I,J) at world position (X,Y);
	// Y grows downward in raster space, so the pixel height is negative.
	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	ref.Transform = Affine{
		A: scale[0], C: x - i*scale[0],
		E: -scale[1], F: y + j*scale[1],
	}
	return nil
}

// epsgFromGeoKeys walks the GeoKeyDirectory shorts and returns the declared
// CS code, preferring the projected one.
func epsgFromGeoKeys(keys []uint16) int {
	if len(keys) < 4 {
		return 0
	}
	numKeys := int(keys[3])

	geographic := 0
	for k := 0; k < numKeys; k++ {
		base := 4 + k*4
		if base+3 >= len(keys) {
			break
		}
		id, location, value := keys[base], keys[base+1], keys[base+3]
		if location != 0 || value == 0 || value == geoKeyUserDefined {
			continue
		}
		switch id {
		case keyProjectedCSType:
			return int(value)
		case keyGeographicType:
			geographic = int(value)
		}
	}
	return geographic
}

func (p *parser) readIFD(offset int64) (map[uint16]ifdEntry, error) {
	if _, err := p.r.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seeking to IFD")
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(p.r, countBuf[:]); err != nil {
		return nil, errors.Wrap(err, "reading IFD entry count")
	}
	count := int(p.order.Uint16(countBuf[:]))

	buf := make([]byte, count*12)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, errors.Wrap(err, "reading IFD entries")
	}

	entries := make(map[uint16]ifdEntry, count)
	for i := 0; i < count; i++ {
		raw := buf[i*12 : (i+1)*12]
		e := ifdEntry{
			fieldType: p.order.Uint16(raw[2:4]),
			count:     p.order.Uint32(raw[4:8]),
		}
		copy(e.raw[:], raw[8:12])
		entries[p.order.Uint16(raw[0:2])] = e
	}
	return entries, nil
}

// valueBytes resolves an entry's payload, following the offset indirection
// when the value does not fit in the four inline bytes.
func (p *parser) valueBytes(e ifdEntry) ([]byte, error) {
	size, ok := typeSizes[e.fieldType]
	if !ok {
		return nil, errors.Errorf("unsupported TIFF field type %d", e.fieldType)
	}
	total := size * e.count
	if total <= 4 {
		return e.raw[:total], nil
	}

	offset := int64(p.order.Uint32(e.raw[:]))
	if _, err := p.r.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seeking to tag value")
	}
	buf := make([]byte, total)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, errors.Wrap(err, "reading tag value")
	}
	return buf, nil
}

func (p *parser) doubles(e ifdEntry) ([]float64, error) {
	if e.fieldType != typeDouble {
		return nil, errors.Errorf("expected DOUBLE tag, got type %d", e.fieldType)
	}
	buf, err := p.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(p.order.Uint64(buf[i*8 : i*8+8]))
	}
	return out, nil
}

func (p *parser) shorts(e ifdEntry) ([]uint16, error) {
	if e.fieldType != typeShort {
		return nil, errors.Errorf("expected SHORT tag, got type %d", e.fieldType)
	}
	buf, err := p.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, e.count)
	for i := range out {
		out[i] = p.order.Uint16(buf[i*2 : i*2+2])
	}
	return out, nil
}

func (p *parser) ascii(e ifdEntry) (string, error) {
	buf, err := p.valueBytes(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// scalar reads a single SHORT or LONG value, the two types dimension tags
// come in.
func (p *parser) scalar(e ifdEntry) (uint32, error) {
	switch e.fieldType {
	case typeShort:
		return uint32(p.order.Uint16(e.raw[0:2])), nil
	case typeLong:
		return p.order.Uint32(e.raw[0:4]), nil
	default:
		return 0, errors.Errorf("unexpected field type %d for dimension tag", e.fieldType)
	}
}
