// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strconv"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Creates/overwrites the file if necessary. Compresses with gzip if .gz or .gzip suffix is present.
func (fits *Image) WriteFile(fileName string, replaceNaNs bool) (err error) {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		gz = gzip.NewWriter(bw)
		w = gz
	}
	if err = fits.Write(w, replaceNaNs); err != nil {
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Writes an in-memory FITS image to an io.Writer as 32-bit floats, passing through all header entries.
// Optionally replaces NaNs with zeros for compatibility with other software.
func (fits *Image) Write(f io.Writer, replaceNaNs bool) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(fits.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(fits.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), fits.Naxisn[i], "[1] Axis size")
	}
	fits.Header.write(&sb)
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	if bytesInHeaderBlock := sb.Len() % fitsBlockSize; bytesInHeaderBlock > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-bytesInHeaderBlock))
	}
	if _, err := io.WriteString(f, sb.String()); err != nil {
		return err
	}

	if err := writeFloat32Array(f, fits.Data, replaceNaNs); err != nil {
		return err
	}

	// Pad data block with zeros if necessary
	if bytesInDataBlock := (len(fits.Data) * 4) % fitsBlockSize; bytesInDataBlock > 0 {
		if _, err := f.Write(make([]byte, fitsBlockSize-bytesInDataBlock)); err != nil {
			return err
		}
	}
	return nil
}

// Tells whether the key is structural and hence written from the image dimensions rather than the header maps
func isReservedKey(key string) bool {
	switch key {
	case "SIMPLE", "BITPIX", "NAXIS", "BZERO", "BSCALE", "BLANK", "EXTEND", "END":
		return true
	}
	return strings.HasPrefix(key, "NAXIS")
}

// Writes all non-structural header entries in stable order
func (h *Header) write(w io.Writer) {
	for _, k := range sortedKeys(h.Bools) {
		if !isReservedKey(k) {
			writeBool(w, k, h.Bools[k], "")
		}
	}
	for _, k := range sortedKeys(h.Ints) {
		if !isReservedKey(k) {
			writeInt32(w, k, h.Ints[k], "")
		}
	}
	for _, k := range sortedKeys(h.Floats) {
		if v := h.Floats[k]; !isReservedKey(k) && !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
			writeFloat32(w, k, v, "")
		}
	}
	for _, k := range sortedKeys(h.Strings) {
		if !isReservedKey(k) {
			writeString(w, k, h.Strings[k])
		}
	}
	for _, k := range sortedKeys(h.Dates) {
		if !isReservedKey(k) {
			writeString(w, k, h.Dates[k])
		}
	}
	for _, c := range h.Comments {
		writeText(w, "COMMENT", c)
	}
	for _, c := range h.History {
		writeText(w, "HISTORY", c)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", truncate(key, 8), v, truncate(comment, 47))
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", truncate(key, 8), value, truncate(comment, 47))
}

// Writes a FITS header float32 value. Always carries a decimal point so it reads back as a float
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	fmt.Fprintf(w, "%-8s= %20s / %-47s", truncate(key, 8), formatFloat(value), truncate(comment, 47))
}

func formatFloat(value float32) string {
	s := strconv.FormatFloat(float64(value), 'G', -1, 32)
	if strings.ContainsRune(s, '.') {
		return s
	}
	if e := strings.IndexByte(s, 'E'); e >= 0 {
		return s[:e] + "." + s[e:]
	}
	return s + ".0"
}

// Writes a FITS header string value on a single card, escaping quotes and truncating if necessary
func writeString(w io.Writer, key, value string) {
	const maxLen = 68 // 80 minus key, "= " and quotes
	escaped := strings.ReplaceAll(value, "'", "''")
	for len(escaped) > maxLen {
		value = value[:len(value)-1]
		escaped = strings.ReplaceAll(value, "'", "''")
	}
	card := fmt.Sprintf("%-8s= '%-8s'", truncate(key, 8), escaped)
	fmt.Fprintf(w, "%-80s", card)
}

// Writes a COMMENT or HISTORY record, splitting long text over several cards
func writeText(w io.Writer, key, text string) {
	const maxLen = 72
	for {
		fmt.Fprintf(w, "%-8s%-72s", key, truncate(text, maxLen))
		if len(text) <= maxLen {
			return
		}
		text = text[maxLen:]
	}
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

// Writes FITS binary body data in network byte order.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 2) {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = (bufLen >> 2)
		}

		for offset := 0; offset < size; offset++ {
			d := data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) {
				d = 0
			}
			binary.BigEndian.PutUint32(buf[offset<<2:], math.Float32bits(d))
		}
		if _, err := w.Write(buf[:(size << 2)]); err != nil {
			return err
		}
	}
	return nil
}
