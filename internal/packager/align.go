package packager

import (
	"archive/zip"
	"encoding/binary"
	"io"
	"os"
	"slices"
	"strings"
)

// Alignment requirements of the platform loader.
const (
	StoredAlignment  = 4
	LibraryAlignment = 4096
)

// alignmentExtraID tags the padding extra field, as written by zipalign.
const alignmentExtraID = 0xd935

const dataDescriptorFlag = 0x8

// countingWriter tracks the absolute offset in the output file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

// alignmentFor returns the required data alignment of an entry, or 0 if the
// entry is compressed and needs none.
func alignmentFor(fh *zip.FileHeader) int64 {
	if fh.Method != zip.Store {
		return 0
	}

	if strings.HasSuffix(fh.Name, ".so") {
		return LibraryAlignment
	}

	return StoredAlignment
}

// align rewrites in to out so that the data of every stored entry starts at
// an offset that is a multiple of its alignment. Padding goes into a
// dedicated extra field of the local header; compressed data is copied as is.
func align(in, out string) (err error) {
	r, err := zip.OpenReader(in)
	if err != nil {
		return err
	}

	defer r.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	cw := &countingWriter{w: f}
	zw := zip.NewWriter(cw)

	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}

		if cerr := f.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			os.Remove(out)
		}
	}()

	for _, file := range r.File {
		fh := file.FileHeader
		fh.Extra = stripAlignment(fh.Extra)
		// Sizes go into the local header so nothing trails the data and
		// offsets measured before each header stay exact.
		fh.Flags &^= dataDescriptorFlag

		if a := alignmentFor(&fh); a > 0 {
			// Flush so cw.n is the offset at which the local header will start.
			if err := zw.Flush(); err != nil {
				return err
			}

			fh.Extra = append(fh.Extra, padding(cw.n, &fh, a)...)
		}

		raw, err := file.OpenRaw()
		if err != nil {
			return err
		}

		w, err := zw.CreateRaw(&fh)
		if err != nil {
			return err
		}

		if _, err := io.Copy(w, raw); err != nil {
			return err
		}
	}

	return nil
}

// padding returns an alignment extra field that places the entry data at a
// multiple of a, given the local header starts at offset.
func padding(offset int64, fh *zip.FileHeader, a int64) []byte {
	const localHeaderLen = 30
	const fieldHeader = 6 // id, size, alignment

	dataStart := offset + localHeaderLen + int64(len(fh.Name)) + int64(len(fh.Extra)) + fieldHeader
	pad := (a - dataStart%a) % a

	field := make([]byte, fieldHeader+pad)
	binary.LittleEndian.PutUint16(field[0:], alignmentExtraID)
	binary.LittleEndian.PutUint16(field[2:], uint16(2+pad))
	binary.LittleEndian.PutUint16(field[4:], uint16(a))

	return field
}

// stripAlignment removes an earlier alignment field so realigning is stable.
func stripAlignment(extra []byte) []byte {
	var out []byte

	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:])
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if 4+size > len(extra) {
			break
		}

		if id != alignmentExtraID {
			out = append(out, extra[:4+size]...)
		}

		extra = extra[4+size:]
	}

	return slices.Clip(out)
}
