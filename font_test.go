package pdfgate

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// syntheticFont builds an sfnt with the given tables and no OS/2 table.
func syntheticFont(tables map[string][]byte, order []string) []byte {
	header := 12 + 16*len(order)
	var body bytes.Buffer
	out := make([]byte, header)
	binary.BigEndian.PutUint32(out[0:], 0x00010000)
	binary.BigEndian.PutUint16(out[4:], uint16(len(order)))
	for i, tag := range order {
		data := tables[tag]
		rec := out[12+16*i:]
		binary.BigEndian.PutUint32(rec[0:], sfntTag(tag))
		binary.BigEndian.PutUint32(rec[4:], tableChecksum(data))
		binary.BigEndian.PutUint32(rec[8:], uint32(header+body.Len()))
		binary.BigEndian.PutUint32(rec[12:], uint32(len(data)))
		body.Write(data)
	}
	return append(out, body.Bytes()...)
}

func TestEnsureOS2TableAddsTable(t *testing.T) {
	tables := map[string][]byte{
		"cmap": []byte("cmap-data"),
		"head": []byte("head-table-bytes"),
	}
	program := syntheticFont(tables, []string{"cmap", "head"})

	out, err := ensureOS2Table(program)
	if err != nil {
		t.Fatalf("ensureOS2Table: %v", err)
	}
	ot, err := parseOffsetTable(out)
	if err != nil {
		t.Fatal(err)
	}
	if ot.NumTables != 3 || ot.SearchRange != 32 || ot.EntrySelector != 1 || ot.RangeShift != 16 {
		t.Errorf("offset table = %+v", ot)
	}
	directory, err := parseTableDirectory(out[12:], int(ot.NumTables))
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[uint32][]byte)
	for _, rec := range directory {
		if rec.Offset%4 != 0 {
			t.Errorf("table %08x at unaligned offset %d", rec.Tag, rec.Offset)
		}
		got[rec.Tag] = out[rec.Offset : rec.Offset+rec.Length]
	}
	for tag, want := range tables {
		if !bytes.Equal(got[sfntTag(tag)], want) {
			t.Errorf("table %s = %q, want %q", tag, got[sfntTag(tag)], want)
		}
	}
	os2 := got[tagOS2]
	if len(os2) != 86 || binary.BigEndian.Uint16(os2[4:]) != 400 {
		t.Errorf("OS/2 table is %d bytes, weight %d", len(os2), binary.BigEndian.Uint16(os2[4:]))
	}
}

func TestEnsureOS2TableKeepsCompleteFont(t *testing.T) {
	out, err := ensureOS2Table(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	if &out[0] != &goregular.TTF[0] {
		t.Error("a font with an OS/2 table was copied")
	}
	if _, err := sfnt.Parse(out); err != nil {
		t.Errorf("sfnt.Parse: %v", err)
	}
}

func TestEnsureOS2TableErrors(t *testing.T) {
	if _, err := ensureOS2Table([]byte{0, 1}); err == nil {
		t.Error("short program accepted")
	}
	program := syntheticFont(map[string][]byte{"head": []byte("abcd")}, []string{"head"})
	binary.BigEndian.PutUint32(program[12+12:], 1000)
	if _, err := ensureOS2Table(program); err == nil {
		t.Error("table past the end of the font accepted")
	}
}
