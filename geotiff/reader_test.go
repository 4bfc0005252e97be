package geotiff

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tiffTag is one IFD entry plus its encoded payload, used to synthesize
// minimal TIFF streams for the reader.
type tiffTag struct {
	id        uint16
	fieldType uint16
	count     uint32
	payload   []byte
}

func shortTag(order binary.ByteOrder, id uint16, values ...uint16) tiffTag {
	buf := new(bytes.Buffer)
	for _, v := range values {
		binary.Write(buf, order, v)
	}
	return tiffTag{id: id, fieldType: typeShort, count: uint32(len(values)), payload: buf.Bytes()}
}

func longTag(order binary.ByteOrder, id uint16, value uint32) tiffTag {
	buf := new(bytes.Buffer)
	binary.Write(buf, order, value)
	return tiffTag{id: id, fieldType: typeLong, count: 1, payload: buf.Bytes()}
}

func doubleTag(order binary.ByteOrder, id uint16, values ...float64) tiffTag {
	buf := new(bytes.Buffer)
	for _, v := range values {
		binary.Write(buf, order, math.Float64bits(v))
	}
	return tiffTag{id: id, fieldType: typeDouble, count: uint32(len(values)), payload: buf.Bytes()}
}

func asciiTag(id uint16, value string) tiffTag {
	payload := append([]byte(value), 0)
	return tiffTag{id: id, fieldType: typeASCII, count: uint32(len(payload)), payload: payload}
}

// buildTIFF assembles a single-IFD TIFF stream holding the given tags,
// placing oversized payloads after the IFD the way real writers do.
func buildTIFF(t *testing.T, order binary.ByteOrder, tags []tiffTag) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	if order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	binary.Write(buf, order, uint16(42))
	binary.Write(buf, order, uint32(8)) // IFD directly after the header

	binary.Write(buf, order, uint16(len(tags)))
	external := 8 + 2 + len(tags)*12 + 4
	var overflow []byte
	for _, tag := range tags {
		binary.Write(buf, order, tag.id)
		binary.Write(buf, order, tag.fieldType)
		binary.Write(buf, order, tag.count)
		if len(tag.payload) <= 4 {
			inline := make([]byte, 4)
			copy(inline, tag.payload)
			buf.Write(inline)
		} else {
			binary.Write(buf, order, uint32(external+len(overflow)))
			overflow = append(overflow, tag.payload...)
		}
	}
	binary.Write(buf, order, uint32(0)) // no next IFD
	buf.Write(overflow)

	require.Equal(t, external, buf.Len()-len(overflow))
	return buf.Bytes()
}

// geoKeyDirectory encodes key/value pairs as an inline GeoKeyDirectory.
func geoKeyDirectory(order binary.ByteOrder, keys ...[2]uint16) tiffTag {
	values := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		values = append(values, k[0], 0, 1, k[1])
	}
	return shortTag(order, tagGeoKeyDirectory, values...)
}

func TestDecodeScaleAndTiepoint(t *testing.T) {
	order := binary.LittleEndian
	data := buildTIFF(t, order, []tiffTag{
		shortTag(order, tagImageWidth, 1024),
		longTag(order, tagImageLength, 768),
		doubleTag(order, tagModelPixelScale, 0.05, 0.05, 0),
		doubleTag(order, tagModelTiepoint, 0, 0, 0, 500000, 7500000, 0),
		geoKeyDirectory(order, [2]uint16{keyProjectedCSType, 32722}),
		asciiTag(tagGDALNoData, "0"),
	})

	ref, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 1024, ref.Width)
	assert.Equal(t, 768, ref.Height)
	assert.Equal(t, 32722, ref.EPSG)
	require.NotNil(t, ref.NoData)
	assert.Zero(t, *ref.NoData)

	assert.InDelta(t, 0.05, ref.Transform.A, 1e-12)
	assert.InDelta(t, -0.05, ref.Transform.E, 1e-12)

	x, y := ref.Transform.Apply(0, 0)
	assert.InDelta(t, 500000, x, 1e-9)
	assert.InDelta(t, 7500000, y, 1e-9)

	x, y = ref.Transform.Apply(1024, 768)
	assert.InDelta(t, 500051.2, x, 1e-9)
	assert.InDelta(t, 7499961.6, y, 1e-9)
}

func TestDecodeModelTransformation(t *testing.T) {
	order := binary.BigEndian
	matrix := []float64{
		0.1, 0, 0, 430000,
		0, -0.1, 0, 6540000,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}
	data := buildTIFF(t, order, []tiffTag{
		shortTag(order, tagImageWidth, 32),
		shortTag(order, tagImageLength, 16),
		doubleTag(order, tagModelTransformation, matrix...),
		// A transformation matrix wins even when scale and tiepoint are
		// also present.
		doubleTag(order, tagModelPixelScale, 99, 99, 0),
		doubleTag(order, tagModelTiepoint, 0, 0, 0, 1, 2, 0),
	})

	ref, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	x, y := ref.Transform.Apply(10, 20)
	assert.InDelta(t, 430001, x, 1e-9)
	assert.InDelta(t, 6539998, y, 1e-9)
}

func TestDecodeBareTIFF(t *testing.T) {
	// No georeferencing at all: the transform degrades to pixel units.
	order := binary.LittleEndian
	data := buildTIFF(t, order, []tiffTag{
		shortTag(order, tagImageWidth, 64),
		shortTag(order, tagImageLength, 48),
	})

	ref, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.True(t, ref.Transform.IsIdentity())
	assert.Zero(t, ref.EPSG)
	assert.Nil(t, ref.NoData)
	assert.Equal(t, 64, ref.Width)
	assert.Equal(t, 48, ref.Height)
}

func TestDecodeGeographicFallback(t *testing.T) {
	order := binary.LittleEndian
	data := buildTIFF(t, order, []tiffTag{
		shortTag(order, tagImageWidth, 8),
		shortTag(order, tagImageLength, 8),
		geoKeyDirectory(order, [2]uint16{keyGeographicType, 4326}),
	})

	ref, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4326, ref.EPSG)
}

func TestDecodeRejectsNonTIFF(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("PK\x03\x04 not a tiff")))
	assert.Error(t, err)
}

func TestDecodeRejectsBigTIFF(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteString("II")
	binary.Write(buf, binary.LittleEndian, uint16(43))
	binary.Write(buf, binary.LittleEndian, uint32(8))

	_, err := Decode(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BigTIFF")
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read("testdata/does-not-exist.tif")
	assert.Error(t, err)
}
