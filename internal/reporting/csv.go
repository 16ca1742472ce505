package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

type Encoding string

const (
	EncodingUTF8 Encoding = "utf-8"
	// Excel on Windows opens CP932 without an import dialog
	EncodingShiftJIS Encoding = "shift_jis"
)

// ParseEncoding accepts the names spreadsheet users tend to type.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "sjis", "cp932":
		return EncodingShiftJIS, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", s)
	}
}

// WriteCSV writes a header line and one record per row.
func WriteCSV(dst io.Writer, rows []Row, enc Encoding) error {
	var tw *transform.Writer
	if enc == EncodingShiftJIS {
		tw = transform.NewWriter(dst, japanese.ShiftJIS.NewEncoder()) // Windowsの「ANSI（CP932）」相当
		dst = tw
	}

	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.strings()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}
