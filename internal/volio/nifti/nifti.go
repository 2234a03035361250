// Package nifti implements a compact NIfTI-1 reader/writer: enough of
// the format to round-trip the affine, voxel spacing and scalar data a
// segmentation pipeline needs, without pulling in a full imaging suite.
// Both plain ".nii" and gzip-compressed ".nii.gz" are supported.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/brainvol/segforge/internal/volio"
)

const (
	headerSize = 348
	magic      = "n+1\x00"

	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

// Read loads a NIfTI-1 volume from path, transparently gunzipping when
// the path ends in ".gz".
func Read(path string) (*volio.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nifti: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("nifti: gunzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("nifti: read %s: %w", path, err)
	}
	return Decode(raw)
}

// Decode parses an in-memory NIfTI-1 byte stream (header + data, single file).
func Decode(raw []byte) (*volio.Volume, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("nifti: truncated header (%d bytes)", len(raw))
	}
	hdr := raw[:headerSize]

	dim := make([]int16, 8)
	for i := 0; i < 8; i++ {
		dim[i] = int16(binary.LittleEndian.Uint16(hdr[40+2*i:]))
	}
	ndim := int(dim[0])
	if ndim < 3 {
		return nil, fmt.Errorf("nifti: unsupported dim[0]=%d, need >= 3", ndim)
	}
	shape := [3]int{int(dim[1]), int(dim[2]), int(dim[3])}
	if err := volio.ValidateSpatial(shape); err != nil {
		return nil, fmt.Errorf("nifti: %w", err)
	}

	datatype := int16(binary.LittleEndian.Uint16(hdr[70:]))

	pixdim := make([]float32, 8)
	for i := 0; i < 8; i++ {
		pixdim[i] = math.Float32frombits(binary.LittleEndian.Uint32(hdr[76+4*i:]))
	}

	voxOffset := math.Float32frombits(binary.LittleEndian.Uint32(hdr[108:]))

	sclSlope := math.Float32frombits(binary.LittleEndian.Uint32(hdr[112:]))
	sclInter := math.Float32frombits(binary.LittleEndian.Uint32(hdr[116:]))
	if sclSlope == 0 {
		sclSlope = 1
	}

	qformCode := int16(binary.LittleEndian.Uint16(hdr[252:]))
	sformCode := int16(binary.LittleEndian.Uint16(hdr[254:]))

	meta := volio.Metadata{
		Spacing:     [3]float64{float64(pixdim[1]), float64(pixdim[2]), float64(pixdim[3])},
		Orientation: "RAI",
	}

	switch {
	case sformCode > 0:
		meta.Affine = readSForm(hdr)
	case qformCode > 0:
		meta.Affine = readQForm(hdr, pixdim)
	default:
		meta.Affine = volio.IdentityMetadata().Affine
		meta.Affine[0][0] = float64(pixdim[1])
		meta.Affine[1][1] = float64(pixdim[2])
		meta.Affine[2][2] = float64(pixdim[3])
	}

	off := int(voxOffset)
	if off < headerSize {
		off = headerSize
	}
	if off >= len(raw) {
		return nil, fmt.Errorf("nifti: vox_offset %d beyond file length %d", off, len(raw))
	}
	body := raw[off:]

	vol := volio.NewVolume(shape, meta)
	n := vol.NumVoxels()
	if err := decodeVoxels(body, datatype, n, sclSlope, sclInter, vol.Data); err != nil {
		return nil, err
	}
	return vol, nil
}

func decodeVoxels(body []byte, datatype int16, n int, slope, inter float32, dst []float32) error {
	switch datatype {
	case dtUint8:
		if len(body) < n {
			return fmt.Errorf("nifti: short body for uint8 data")
		}
		for i := 0; i < n; i++ {
			dst[i] = float32(body[i])*slope + inter
		}
	case dtInt16:
		if len(body) < n*2 {
			return fmt.Errorf("nifti: short body for int16 data")
		}
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(body[2*i:]))
			dst[i] = float32(v)*slope + inter
		}
	case dtInt32:
		if len(body) < n*4 {
			return fmt.Errorf("nifti: short body for int32 data")
		}
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(body[4*i:]))
			dst[i] = float32(v)*slope + inter
		}
	case dtFloat32:
		if len(body) < n*4 {
			return fmt.Errorf("nifti: short body for float32 data")
		}
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))*slope + inter
		}
	case dtFloat64:
		if len(body) < n*8 {
			return fmt.Errorf("nifti: short body for float64 data")
		}
		for i := 0; i < n; i++ {
			v := math.Float64frombits(binary.LittleEndian.Uint64(body[8*i:]))
			dst[i] = float32(v)*slope + inter
		}
	default:
		return fmt.Errorf("nifti: unsupported datatype code %d", datatype)
	}
	return nil
}

func readSForm(hdr []byte) [4][4]float64 {
	var a [4][4]float64
	row := func(off int) [4]float32 {
		var r [4]float32
		for i := 0; i < 4; i++ {
			r[i] = math.Float32frombits(binary.LittleEndian.Uint32(hdr[off+4*i:]))
		}
		return r
	}
	srow0 := row(280)
	srow1 := row(296)
	srow2 := row(312)
	for i := 0; i < 4; i++ {
		a[0][i] = float64(srow0[i])
		a[1][i] = float64(srow1[i])
		a[2][i] = float64(srow2[i])
	}
	a[3][3] = 1
	return a
}

func readQForm(hdr []byte, pixdim []float32) [4][4]float64 {
	quatern := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(hdr[off:]))
	}
	b := quatern(256)
	c := quatern(260)
	d := quatern(264)
	qx := quatern(268)
	qy := quatern(272)
	qz := quatern(276)

	a := float32(math.Sqrt(math.Max(0, 1-float64(b*b+c*c+d*d))))
	qfac := float32(1)
	if pixdim[0] < 0 {
		qfac = -1
	}

	r := [3][3]float32{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
	}

	var m [4][4]float64
	for i := 0; i < 3; i++ {
		m[i][0] = float64(r[i][0] * pixdim[1])
		m[i][1] = float64(r[i][1] * pixdim[2])
		m[i][2] = float64(r[i][2] * pixdim[3] * qfac)
	}
	m[0][3] = float64(qx)
	m[1][3] = float64(qy)
	m[2][3] = float64(qz)
	m[3][3] = 1
	return m
}

// EncodeGzip renders vol as a gzip-compressed NIfTI-1 byte stream, for
// callers that persist the result under a ".nii.gz" name directly
// (rather than through Write) and must match that extension's format.
func EncodeGzip(vol *volio.Volume) ([]byte, error) {
	raw, err := Encode(vol)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("nifti: gzip encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("nifti: gzip encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Write serializes vol as a NIfTI-1 single file with float32 voxel data,
// gzipping automatically when path ends in ".gz".
func Write(path string, vol *volio.Volume) error {
	data, err := Encode(vol)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nifti: create %s: %w", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("nifti: gzip write %s: %w", path, err)
		}
		return gz.Close()
	}
	_, err = f.Write(data)
	return err
}

// Encode renders vol as a NIfTI-1 byte stream with float32 voxel data.
func Encode(vol *volio.Volume) ([]byte, error) {
	if err := volio.ValidateSpatial(vol.Shape); err != nil {
		return nil, fmt.Errorf("nifti: %w", err)
	}
	hdr := make([]byte, headerSize)

	binary.LittleEndian.PutUint32(hdr[0:], headerSize)

	putU16 := func(off int, v uint16) { binary.LittleEndian.PutUint16(hdr[off:], v) }
	putF32 := func(off int, v float32) { binary.LittleEndian.PutUint32(hdr[off:], math.Float32bits(v)) }

	putU16(40, 3) // dim[0] = 3
	putU16(42, uint16(vol.Shape[0]))
	putU16(44, uint16(vol.Shape[1]))
	putU16(46, uint16(vol.Shape[2]))
	putU16(48, 1)
	putU16(50, 1)
	putU16(52, 1)
	putU16(54, 1)

	putU16(70, dtFloat32)
	putU16(72, 32) // bitpix

	putF32(76, 1) // pixdim[0] (qfac)
	putF32(80, float32(vol.Meta.Spacing[0]))
	putF32(84, float32(vol.Meta.Spacing[1]))
	putF32(88, float32(vol.Meta.Spacing[2]))

	putF32(108, headerSize+4) // vox_offset, after the 4-byte extension flag
	putF32(112, 1)            // scl_slope
	putF32(116, 0)            // scl_inter

	putU16(254, 1) // sform_code = 1 (scanner-based)
	a := vol.Meta.Affine
	for i := 0; i < 4; i++ {
		putF32(280+4*i, float32(a[0][i]))
		putF32(296+4*i, float32(a[1][i]))
		putF32(312+4*i, float32(a[2][i]))
	}

	copy(hdr[344:348], magic)

	buf := bytes.NewBuffer(nil)
	buf.Write(hdr)
	buf.Write([]byte{0, 0, 0, 0}) // extension flag, no extensions

	body := make([]byte, 4*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint32(body[4*i:], math.Float32bits(v))
	}
	buf.Write(body)
	return buf.Bytes(), nil
}
