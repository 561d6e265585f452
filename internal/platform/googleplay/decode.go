package googleplay

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// sniffBytes is how much of a file the null-density check looks at.
	sniffBytes = 4096
	// nullRatioPercent of NUL bytes marks a file without BOM as UTF-16.
	nullRatioPercent = 30
)

// detectEncoding picks the decoder for an export file. Play Console exports
// have shipped as UTF-8 and as UTF-16 with and without a byte order mark.
func detectEncoding(data []byte) encoding.Encoding {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.UTF8BOM
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	}

	sample := data
	if len(sample) > sniffBytes {
		sample = sample[:sniffBytes]
	}
	if len(sample) < 2 {
		return unicode.UTF8
	}

	var even, odd int
	for i, b := range sample {
		if b != 0 {
			continue
		}
		if i%2 == 0 {
			even++
		} else {
			odd++
		}
	}
	if (even+odd)*100 < len(sample)*nullRatioPercent {
		return unicode.UTF8
	}
	// ASCII text in UTF-16LE puts the zero byte second
	if odd >= even {
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	}
	return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
}

// decodeText converts an export file to UTF-8.
func decodeText(data []byte) ([]byte, error) {
	out, _, err := transform.Bytes(detectEncoding(data).NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	return out, nil
}

// unpack returns the CSV payloads of an object: the entries of a zip archive
// or the object itself.
func unpack(name string, data []byte) (map[string][]byte, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		return map[string][]byte{name: data}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", name, err)
	}
	files := make(map[string][]byte)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in %s: %w", f.Name, name, err)
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxObjectBytes))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in %s: %w", f.Name, name, err)
		}
		files[name+"/"+f.Name] = body
	}
	return files, nil
}

// record is one CSV line addressed by header name.
type record struct {
	line   int
	fields map[string]string
}

func (r record) get(col string) string {
	return strings.TrimSpace(r.fields[col])
}

// readCSV parses a decoded export. Quoted fields may contain the delimiter
// and rows may be shorter or longer than the header. Unreadable lines are
// reported through onBad and skipped.
func readCSV(data []byte, onBad func(line int, err error)) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}
			onBad(line, err)
			continue
		}
		line, _ := r.FieldPos(0)
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				fields[name] = rec[i]
			}
		}
		out = append(out, record{line: line, fields: fields})
	}
	return out, nil
}
