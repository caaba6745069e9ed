package alerts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Minimal FITS binary-table reader.
//
// No FITS or HEALPix library exists anywhere in the retrieval pack (the
// Python original leans on astropy, which has no Go equivalent in this
// corpus), so this reader is a deliberate, narrowly-scoped stdlib
// implementation — see DESIGN.md. It supports exactly what
// _generate_fields_from_skymap needs: the primary HDU (skipped) and one
// binary-table extension's UNIQ (8-byte int) and PROBDENSITY (8-byte
// float) columns, per the FITS 4.0 standard's header/data-unit layout
// (2880-byte blocks of 80-byte card images).

const fitsBlockSize = 2880
const fitsCardSize = 80

// skymapPixel is one row of the decoded multi-order skymap table.
type skymapPixel struct {
	Uniq        int64
	ProbDensity float64
}

// readMultiOrderSkymap reads a multi-order HEALPix skymap FITS file
// (primary HDU + one BINTABLE extension) from r, returning the UNIQ
// and PROBDENSITY columns as a slice of rows in on-disk order
// (unsorted — sorting by descending PROBDENSITY is the caller's job,
// matching skymap.sort('PROBDENSITY', reverse=True) in the original).
func readMultiOrderSkymap(r io.Reader) ([]skymapPixel, error) {
	br := bufio.NewReaderSize(r, fitsBlockSize)

	primary, err := readFITSHeader(br)
	if err != nil {
		return nil, fmt.Errorf("fits: primary header: %w", err)
	}
	if err := skipFITSData(br, primary); err != nil {
		return nil, fmt.Errorf("fits: skip primary data: %w", err)
	}

	ext, err := readFITSHeader(br)
	if err != nil {
		return nil, fmt.Errorf("fits: extension header: %w", err)
	}
	if xt := strings.TrimSpace(ext["XTENSION"]); xt != "" && xt != "'BINTABLE'" && xt != "BINTABLE" {
		return nil, fmt.Errorf("fits: unsupported extension type %q", xt)
	}

	rowBytes, err := headerInt(ext, "NAXIS1")
	if err != nil {
		return nil, err
	}
	nrows, err := headerInt(ext, "NAXIS2")
	if err != nil {
		return nil, err
	}
	nfields, err := headerInt(ext, "TFIELDS")
	if err != nil {
		return nil, err
	}

	cols := make([]fitsColumn, nfields)
	offset := 0
	uniqCol, probCol := -1, -1
	for i := 0; i < nfields; i++ {
		n := i + 1
		form := strings.Trim(strings.TrimSpace(ext[fmt.Sprintf("TFORM%d", n)]), "'")
		name := strings.Trim(strings.TrimSpace(ext[fmt.Sprintf("TTYPE%d", n)]), "'")
		repeat, typeCode, err := parseTFORM(form)
		if err != nil {
			return nil, fmt.Errorf("fits: column %d: %w", n, err)
		}
		width := fitsTypeWidth(typeCode) * repeat
		cols[i] = fitsColumn{name: name, offset: offset, width: width, repeat: repeat, typeCode: typeCode}
		if strings.EqualFold(name, "UNIQ") {
			uniqCol = i
		}
		if strings.EqualFold(name, "PROBDENSITY") {
			probCol = i
		}
		offset += width
	}
	if uniqCol == -1 || probCol == -1 {
		return nil, fmt.Errorf("fits: skymap table missing UNIQ/PROBDENSITY columns")
	}
	if offset != rowBytes {
		return nil, fmt.Errorf("fits: column widths sum to %d, header declares NAXIS1=%d", offset, rowBytes)
	}

	row := make([]byte, rowBytes)
	out := make([]skymapPixel, 0, nrows)
	for r := 0; r < nrows; r++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("fits: read row %d: %w", r, err)
		}
		uniq, err := cols[uniqCol].readInt(row)
		if err != nil {
			return nil, fmt.Errorf("fits: row %d: UNIQ: %w", r, err)
		}
		prob, err := cols[probCol].readFloat(row)
		if err != nil {
			return nil, fmt.Errorf("fits: row %d: PROBDENSITY: %w", r, err)
		}
		out = append(out, skymapPixel{Uniq: uniq, ProbDensity: prob})
	}
	return out, nil
}

type fitsColumn struct {
	name     string
	offset   int
	width    int
	repeat   int
	typeCode byte
}

func (c fitsColumn) field(row []byte) []byte { return row[c.offset : c.offset+c.width] }

func (c fitsColumn) readInt(row []byte) (int64, error) {
	b := c.field(row)
	switch c.typeCode {
	case 'K':
		return int64(binary.BigEndian.Uint64(b)), nil
	case 'J':
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 'I':
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 'B':
		return int64(b[0]), nil
	default:
		return 0, fmt.Errorf("column %q: cannot read type %q as int", c.name, c.typeCode)
	}
}

func (c fitsColumn) readFloat(row []byte) (float64, error) {
	b := c.field(row)
	switch c.typeCode {
	case 'D':
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case 'E':
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	default:
		return 0, fmt.Errorf("column %q: cannot read type %q as float", c.name, c.typeCode)
	}
}

// parseTFORM parses a FITS TFORMn value like "1K", "D", "24A" into a
// repeat count and a single-character type code.
func parseTFORM(form string) (repeat int, typeCode byte, err error) {
	form = strings.TrimSpace(form)
	if form == "" {
		return 0, 0, fmt.Errorf("empty TFORM")
	}
	i := 0
	for i < len(form) && form[i] >= '0' && form[i] <= '9' {
		i++
	}
	repeat = 1
	if i > 0 {
		repeat, err = strconv.Atoi(form[:i])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid repeat count in TFORM %q: %w", form, err)
		}
	}
	if i >= len(form) {
		return 0, 0, fmt.Errorf("TFORM %q missing type code", form)
	}
	return repeat, form[i], nil
}

func fitsTypeWidth(code byte) int {
	switch code {
	case 'K', 'D':
		return 8
	case 'J', 'E':
		return 4
	case 'I':
		return 2
	case 'B', 'A', 'L':
		return 1
	default:
		return 0
	}
}

// readFITSHeader reads 2880-byte header blocks until the END card,
// returning every "KEYWORD = value" card as a trimmed string map.
func readFITSHeader(br *bufio.Reader) (map[string]string, error) {
	header := make(map[string]string)
	block := make([]byte, fitsBlockSize)
	for {
		if _, err := io.ReadFull(br, block); err != nil {
			return nil, fmt.Errorf("read header block: %w", err)
		}
		done := false
		for c := 0; c < fitsBlockSize/fitsCardSize; c++ {
			card := string(block[c*fitsCardSize : (c+1)*fitsCardSize])
			keyword := strings.TrimSpace(card[:8])
			if keyword == "END" {
				done = true
				break
			}
			if keyword == "" || keyword == "COMMENT" || keyword == "HISTORY" {
				continue
			}
			if len(card) > 8 && card[8] == '=' {
				value := strings.TrimSpace(card[9:])
				if slash := strings.Index(value, "/"); slash >= 0 && !strings.HasPrefix(value, "'") {
					value = strings.TrimSpace(value[:slash])
				}
				header[keyword] = value
			}
		}
		if done {
			return header, nil
		}
	}
}

func headerInt(header map[string]string, key string) (int, error) {
	raw, ok := header[key]
	if !ok {
		return 0, fmt.Errorf("fits: header missing %s", key)
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("fits: header %s=%q: %w", key, raw, err)
	}
	return v, nil
}

// skipFITSData advances past the HDU's data unit (rounded up to the
// next 2880-byte block), computed from BITPIX/NAXIS/NAXISn/PCOUNT/GCOUNT.
func skipFITSData(br *bufio.Reader, header map[string]string) error {
	naxis, err := headerInt(header, "NAXIS")
	if err != nil {
		return err
	}
	if naxis == 0 {
		return nil
	}
	bitpix, err := headerInt(header, "BITPIX")
	if err != nil {
		return err
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}

	nelem := 1
	for i := 1; i <= naxis; i++ {
		n, err := headerInt(header, fmt.Sprintf("NAXIS%d", i))
		if err != nil {
			return err
		}
		nelem *= n
	}

	pcount := 0
	if _, ok := header["PCOUNT"]; ok {
		pcount, _ = headerInt(header, "PCOUNT")
	}
	gcount := 1
	if _, ok := header["GCOUNT"]; ok {
		gcount, _ = headerInt(header, "GCOUNT")
	}

	dataBytes := (bitpix / 8) * gcount * (pcount + nelem)
	padded := ((dataBytes + fitsBlockSize - 1) / fitsBlockSize) * fitsBlockSize
	if padded == 0 {
		return nil
	}
	_, err = io.CopyN(io.Discard, br, int64(padded))
	return err
}
