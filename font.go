package pdfgate

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// sfnt offset table: the first 12 bytes of a TrueType/OpenType program.
type offsetTable struct {
	SfntVersion   uint32
	NumTables     uint16
	SearchRange   uint16
	EntrySelector uint16
	RangeShift    uint16
}

// tableRecord is one entry of the sfnt table directory.
type tableRecord struct {
	Tag      uint32
	CheckSum uint32
	Offset   uint32
	Length   uint32
}

var tagOS2 = sfntTag("OS/2")

// ensureOS2Table returns program unchanged when it carries an OS/2 table
// and otherwise a copy with a minimal one added.
func ensureOS2Table(program []byte) ([]byte, error) {
	ot, err := parseOffsetTable(program)
	if err != nil {
		return nil, err
	}
	directory, err := parseTableDirectory(program[12:], int(ot.NumTables))
	if err != nil {
		return nil, err
	}
	for _, rec := range directory {
		if rec.Tag == tagOS2 {
			return program, nil
		}
		if uint64(rec.Offset)+uint64(rec.Length) > uint64(len(program)) {
			return nil, fmt.Errorf("table %08x extends past end of font", rec.Tag)
		}
	}

	os2 := minimalOS2Table()
	directory = append(directory, tableRecord{
		Tag:      tagOS2,
		CheckSum: tableChecksum(os2),
		Length:   uint32(len(os2)),
	})
	ot.NumTables = uint16(len(directory))
	updateOffsetTable(&ot)

	// Tables are re-laid after the grown directory, each 4-byte aligned.
	headerSize := 12 + 16*len(directory)
	size := align4(headerSize)
	for _, rec := range directory {
		size += align4(int(rec.Length))
	}
	out := make([]byte, size)
	pos := align4(headerSize)
	for i, rec := range directory {
		var src []byte
		if rec.Tag == tagOS2 && i == len(directory)-1 {
			src = os2
		} else {
			src = program[rec.Offset : rec.Offset+rec.Length]
		}
		copy(out[pos:], src)
		directory[i].Offset = uint32(pos)
		pos += align4(int(rec.Length))
	}

	binary.BigEndian.PutUint32(out[0:], ot.SfntVersion)
	binary.BigEndian.PutUint16(out[4:], ot.NumTables)
	binary.BigEndian.PutUint16(out[6:], ot.SearchRange)
	binary.BigEndian.PutUint16(out[8:], ot.EntrySelector)
	binary.BigEndian.PutUint16(out[10:], ot.RangeShift)
	for i, rec := range directory {
		b := out[12+16*i:]
		binary.BigEndian.PutUint32(b[0:], rec.Tag)
		binary.BigEndian.PutUint32(b[4:], rec.CheckSum)
		binary.BigEndian.PutUint32(b[8:], rec.Offset)
		binary.BigEndian.PutUint32(b[12:], rec.Length)
	}
	return out, nil
}

func parseOffsetTable(data []byte) (offsetTable, error) {
	if len(data) < 12 {
		return offsetTable{}, fmt.Errorf("font too short for offset table")
	}
	return offsetTable{
		SfntVersion:   binary.BigEndian.Uint32(data[0:4]),
		NumTables:     binary.BigEndian.Uint16(data[4:6]),
		SearchRange:   binary.BigEndian.Uint16(data[6:8]),
		EntrySelector: binary.BigEndian.Uint16(data[8:10]),
		RangeShift:    binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

func parseTableDirectory(data []byte, num int) ([]tableRecord, error) {
	if len(data) < num*16 {
		return nil, fmt.Errorf("font too short for table directory")
	}
	directory := make([]tableRecord, num)
	for i := range directory {
		b := data[i*16:]
		directory[i] = tableRecord{
			Tag:      binary.BigEndian.Uint32(b[0:4]),
			CheckSum: binary.BigEndian.Uint32(b[4:8]),
			Offset:   binary.BigEndian.Uint32(b[8:12]),
			Length:   binary.BigEndian.Uint32(b[12:16]),
		}
	}
	return directory, nil
}

// minimalOS2Table builds a version 1 OS/2 table with regular-weight
// metrics.
func minimalOS2Table() []byte {
	b := make([]byte, 86)
	be := binary.BigEndian
	be.PutUint16(b[0:], 1)    // version
	be.PutUint16(b[2:], 512)  // xAvgCharWidth
	be.PutUint16(b[4:], 400)  // usWeightClass
	be.PutUint16(b[6:], 5)    // usWidthClass
	be.PutUint16(b[8:], 0)    // fsType: installable
	be.PutUint16(b[10:], 650) // ySubscriptXSize
	be.PutUint16(b[12:], 600) // ySubscriptYSize
	be.PutUint16(b[16:], 75)  // ySubscriptYOffset
	be.PutUint16(b[18:], 650) // ySuperscriptXSize
	be.PutUint16(b[20:], 600) // ySuperscriptYSize
	be.PutUint16(b[24:], 350) // ySuperscriptYOffset
	be.PutUint16(b[26:], 50)  // yStrikeoutSize
	be.PutUint16(b[28:], 258) // yStrikeoutPosition
	copy(b[32:42], []byte{2, 11, 6, 3, 2, 2, 0, 0, 0, 0})
	copy(b[58:62], "PDFG")
	be.PutUint16(b[62:], 0x0040)              // fsSelection: REGULAR
	be.PutUint16(b[64:], 32)                  // usFirstCharIndex
	be.PutUint16(b[66:], 0xffff)              // usLastCharIndex
	be.PutUint16(b[68:], 800)                 // sTypoAscender
	be.PutUint16(b[70:], uint16(0x10000-200)) // sTypoDescender
	be.PutUint16(b[72:], 75)                  // sTypoLineGap
	be.PutUint16(b[74:], 900)                 // usWinAscent
	be.PutUint16(b[76:], 250)                 // usWinDescent
	be.PutUint32(b[78:], 1)                   // ulCodePageRange1: Latin 1
	return b
}

func tableChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:min(i+4, len(data))])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}

func updateOffsetTable(ot *offsetTable) {
	num := int(ot.NumTables)
	shift := 0
	if num > 0 {
		shift = bits.Len(uint(num)) - 1
	}
	pow2 := 1 << shift
	ot.SearchRange = uint16(pow2 * 16)
	ot.EntrySelector = uint16(shift)
	ot.RangeShift = uint16(num*16) - ot.SearchRange
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func sfntTag(s string) uint32 {
	return binary.BigEndian.Uint32([]byte(s))
}
