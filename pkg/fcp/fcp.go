// Package fcp decodes ISO/IEC 7816-4 File Control Parameter templates and
// the legacy TS 51.011 fixed-layout GET RESPONSE format into a common File
// descriptor, so the ARF loader does not need to know which form a given
// card returned.
package fcp

import (
	"github.com/barnettlynn/seaccess/pkg/seaerr"
	"github.com/barnettlynn/seaccess/pkg/tlv"
)

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeDF
	FileTypeEF
)

type FileStructure int

const (
	StructureUnknown FileStructure = iota
	StructureNoEF
	StructureTransparent
	StructureLinearFixed
	StructureLinearVariable
	StructureCyclic
)

type LCS int

const (
	LCSUnavailable LCS = iota
	LCSNoInfo
	LCSCreation
	LCSInitialization
	LCSOpActivated
	LCSOpDeactivated
	LCSTermination
)

// File is the decoded view of an FCP/legacy GET RESPONSE common to both
// encodings.
type File struct {
	FileType      FileType
	FileStructure FileStructure
	FileSize      int
	TotalFileSize int
	FID           [2]byte
	HasFID        bool
	SFI           int // 0 means absent; valid range is 1..30
	MaxRecordSize int
	NumRecords    int
	LCS           LCS
}

// Decode accepts either a modern FCP template (tag 0x62) or a legacy
// TS 51.011 fixed-layout response and decodes it into File.
func Decode(raw []byte) (File, error) {
	if len(raw) > 0 && raw[0] == 0x62 {
		return decodeModern(raw)
	}
	return decodeLegacy(raw)
}

func decodeModern(raw []byte) (File, error) {
	node, err := tlv.ParseNext(raw, 0)
	if err != nil {
		return File{}, err
	}
	if node.Tag != 0x62 {
		return File{}, &seaerr.MalformedError{Expected: "FCP template tag 0x62", AtOffset: 0}
	}
	inner, err := tlv.DecodeSequence(node.Value)
	if err != nil {
		return File{}, err
	}

	f := File{}
	var fdByte byte
	haveFD := false
	var sfiValue []byte

	for _, n := range inner {
		switch n.Tag {
		case 0x80: // file size (data)
			v, err := tlv.DecodeInteger(n.Value)
			if err != nil {
				return File{}, err
			}
			f.FileSize = int(v)
		case 0x81: // total file size
			v, err := tlv.DecodeInteger(n.Value)
			if err != nil {
				return File{}, err
			}
			f.TotalFileSize = int(v)
		case 0x82: // file descriptor
			if len(n.Value) == 0 {
				return File{}, &seaerr.MalformedError{Expected: "non-empty file descriptor", AtOffset: n.ValueOffset}
			}
			fdByte = n.Value[0]
			haveFD = true
			// Layout after FDB: data coding byte, 2-byte max record size,
			// 2-byte number of records (ISO 7816-4 §8.4.3, record-oriented EFs).
			if len(n.Value) >= 4 {
				f.MaxRecordSize = int(n.Value[2])<<8 | int(n.Value[3])
			}
			if len(n.Value) >= 6 {
				f.NumRecords = int(n.Value[4])<<8 | int(n.Value[5])
			}
		case 0x83: // file ID
			if len(n.Value) == 2 {
				f.FID[0], f.FID[1] = n.Value[0], n.Value[1]
				f.HasFID = true
			}
		case 0x88: // SFI
			sfiValue = n.Value
		case 0x8A: // life-cycle status
			if len(n.Value) == 1 {
				f.LCS = decodeLCS(n.Value[0])
			}
		}
	}

	if haveFD {
		f.FileType, f.FileStructure = decodeFileDescriptor(fdByte)
	}
	f.SFI = decodeSFI(sfiValue)

	return f, nil
}

// decodeFileDescriptor maps the file-descriptor byte's structure bits
// (b & 0x07) and DF indicator (b & 0x38 == 0x38) to FileType/FileStructure.
func decodeFileDescriptor(b byte) (FileType, FileStructure) {
	if b&0x38 == 0x38 {
		return FileTypeDF, StructureNoEF
	}
	switch b & 0x07 {
	case 0:
		return FileTypeEF, StructureNoEF
	case 1:
		return FileTypeEF, StructureTransparent
	case 2, 3:
		return FileTypeEF, StructureLinearFixed
	case 4, 5:
		return FileTypeEF, StructureLinearVariable
	case 6, 7:
		return FileTypeEF, StructureCyclic
	}
	return FileTypeUnknown, StructureUnknown
}

// decodeSFI decodes tag 0x88's value per GSM 102 222: absent means SFI not
// available; otherwise the upper 5 bits hold the SFI when the lower 3 bits
// are zero.
func decodeSFI(value []byte) int {
	if len(value) != 1 {
		return 0
	}
	b := value[0]
	if b&0x07 != 0 {
		return 0
	}
	sfi := int(b >> 3)
	if sfi < 1 || sfi > 30 {
		return 0
	}
	return sfi
}

func decodeLCS(b byte) LCS {
	switch {
	case b == 0:
		return LCSNoInfo
	case b == 1:
		return LCSCreation
	case b == 3:
		return LCSInitialization
	case b == 5 || b == 7:
		return LCSOpActivated
	case b == 4 || b == 6:
		return LCSOpDeactivated
	case b >= 12 && b <= 15:
		return LCSTermination
	default:
		return LCSUnavailable
	}
}

// decodeLegacy decodes the fixed TS 51.011 GET RESPONSE layout: byte 6
// (0-indexed 5) is file type, bytes 2-3 (1-2) are file size MSB-first,
// byte 13 (12) is file structure, byte 14 (13) is record size.
func decodeLegacy(raw []byte) (File, error) {
	// Byte numbers below are 1-indexed per TS 51.011; array indices are
	// byte number - 1. Byte 14 (record size, index 13) is the last byte
	// read; inputs shorter than 15 bytes are rejected.
	if len(raw) < 15 {
		return File{}, &seaerr.MalformedError{Expected: "legacy GET RESPONSE >= 15 bytes", AtOffset: len(raw)}
	}
	f := File{}
	f.FileSize = int(raw[1])<<8 | int(raw[2])

	switch raw[5] {
	case 0x01:
		f.FileType = FileTypeUnknown // MF, not modeled as DF/EF here
	case 0x02:
		f.FileType = FileTypeDF
	case 0x04:
		f.FileType = FileTypeEF
	default:
		f.FileType = FileTypeUnknown
	}

	if f.FileType == FileTypeEF {
		switch raw[12] {
		case 0x00:
			f.FileStructure = StructureTransparent
		case 0x01:
			f.FileStructure = StructureLinearFixed
		case 0x03:
			f.FileStructure = StructureCyclic
		default:
			f.FileStructure = StructureUnknown
		}
		f.MaxRecordSize = int(raw[13])
		if f.MaxRecordSize > 0 {
			f.NumRecords = f.FileSize / f.MaxRecordSize
		}
	} else {
		f.FileStructure = StructureNoEF
	}

	f.LCS = LCSUnavailable

	return f, nil
}
