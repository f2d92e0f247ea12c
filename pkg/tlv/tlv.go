// Package tlv implements the BER/DER tag-length-value decoding and
// re-encoding used to read PKCS#15/GPAC access-rule files: short and long
// length forms, OID decoding, and the PKCS#15 Path structure. Indefinite
// length is rejected, and multi-byte tags are rejected as unsupported —
// every tag the SE Access Control file system uses fits in one byte.
package tlv

import (
	"fmt"

	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// Node is one parsed TLV entry: its tag, the length-declared value bytes,
// and enough position bookkeeping to let a caller step to the next entry.
type Node struct {
	Tag         byte
	Length      int
	ValueOffset int
	Value       []byte
	Total       int // total bytes consumed, including tag and length prefix
}

func malformed(expected string, offset int) error {
	return &seaerr.MalformedError{Expected: expected, AtOffset: offset}
}

// ParseNext decodes one TLV entry starting at pos in buf. It never reads
// past len(buf).
func ParseNext(buf []byte, pos int) (Node, error) {
	if pos < 0 || pos >= len(buf) {
		return Node{}, malformed("tag", pos)
	}
	tag := buf[pos]
	if tag&0x1F == 0x1F {
		return Node{}, malformed("single-byte tag (multi-byte tags unsupported)", pos)
	}
	lenPos := pos + 1
	if lenPos >= len(buf) {
		return Node{}, malformed("length", lenPos)
	}

	length, valueOffset, err := parseLength(buf, lenPos)
	if err != nil {
		return Node{}, err
	}
	if valueOffset+length > len(buf) {
		return Node{}, malformed("value within bounds", valueOffset)
	}

	return Node{
		Tag:         tag,
		Length:      length,
		ValueOffset: valueOffset,
		Value:       buf[valueOffset : valueOffset+length],
		Total:       valueOffset + length - pos,
	}, nil
}

// parseLength decodes a BER length field at pos, returning the length and
// the offset of the first value byte. Indefinite length (0x80) is rejected.
func parseLength(buf []byte, pos int) (length, valueOffset int, err error) {
	first := buf[pos]
	if first&0x80 == 0 {
		return int(first), pos + 1, nil
	}
	numBytes := int(first & 0x7F)
	if numBytes == 0 {
		return 0, 0, malformed("definite length (indefinite length unsupported)", pos)
	}
	if numBytes > 4 {
		return 0, 0, malformed("length field <= 4 bytes", pos)
	}
	end := pos + 1 + numBytes
	if end > len(buf) {
		return 0, 0, malformed("length bytes within bounds", pos+1)
	}
	length = 0
	for _, b := range buf[pos+1 : end] {
		length = length<<8 | int(b)
	}
	return length, end, nil
}

// SearchTag scans buf from offset from for the first top-level TLV entry
// whose tag equals tag, returning its position or ok=false.
func SearchTag(buf []byte, tag byte, from int) (pos int, ok bool) {
	p := from
	for p < len(buf) {
		node, err := ParseNext(buf, p)
		if err != nil {
			return 0, false
		}
		if node.Tag == tag {
			return p, true
		}
		p += node.Total
	}
	return 0, false
}

// DecodeInteger decodes a DER INTEGER value as an int64. Values wider than
// 8 bytes are rejected as malformed.
func DecodeInteger(value []byte) (int64, error) {
	if len(value) == 0 {
		return 0, malformed("non-empty INTEGER", 0)
	}
	if len(value) > 8 {
		return 0, malformed("INTEGER <= 8 bytes", 0)
	}
	var v int64
	if value[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range value {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// DecodeOctetString returns value unchanged; it exists so callers can name
// the ASN.1 type they expect at the call site.
func DecodeOctetString(value []byte) ([]byte, error) {
	return value, nil
}

// DecodeSequence parses every top-level TLV entry within value, the way a
// DER SEQUENCE's content octets are itself a concatenation of TLVs.
func DecodeSequence(value []byte) ([]Node, error) {
	var nodes []Node
	p := 0
	for p < len(value) {
		node, err := ParseNext(value, p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		p += node.Total
	}
	return nodes, nil
}

// DecodeOid decodes a DER OBJECT IDENTIFIER value into dotted-string form.
func DecodeOid(value []byte) (string, error) {
	if len(value) == 0 {
		return "", malformed("non-empty OBJECT IDENTIFIER", 0)
	}
	first := int64(value[0])
	oid := fmt.Sprintf("%d.%d", first/40, first%40)

	var component int64
	haveComponent := false
	for _, b := range value[1:] {
		component = component<<7 | int64(b&0x7F)
		if b&0x80 == 0 {
			oid += fmt.Sprintf(".%d", component)
			component = 0
			haveComponent = false
		} else {
			haveComponent = true
		}
	}
	if haveComponent {
		return "", malformed("complete OBJECT IDENTIFIER component", len(value))
	}
	return oid, nil
}

// EncodeTLV builds the DER encoding of tag/value, choosing the short length
// form when possible and the minimal long form otherwise.
func EncodeTLV(tag byte, value []byte) []byte {
	out := make([]byte, 0, 2+len(value))
	out = append(out, tag)
	out = append(out, EncodeLength(len(value))...)
	out = append(out, value...)
	return out
}

// EncodeLength builds the DER length octets for n.
func EncodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var be []byte
	for v := n; v > 0; v >>= 8 {
		be = append([]byte{byte(v)}, be...)
	}
	return append([]byte{0x80 | byte(len(be))}, be...)
}

// EncodeInteger DER-encodes v as a minimal two's-complement INTEGER.
func EncodeInteger(v int64) []byte {
	if v == 0 {
		return EncodeTLV(0x02, []byte{0x00})
	}
	var b []byte
	neg := v < 0
	for v != 0 && v != -1 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	if neg {
		if len(b) == 0 || b[0]&0x80 == 0 {
			b = append([]byte{0xFF}, b...)
		}
	} else if len(b) == 0 || b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	return EncodeTLV(0x02, b)
}

// EncodeOctetString DER-encodes value as an OCTET STRING.
func EncodeOctetString(value []byte) []byte {
	return EncodeTLV(0x04, value)
}

// EncodeSequence DER-encodes elements concatenated as a SEQUENCE's content.
func EncodeSequence(elements ...[]byte) []byte {
	var content []byte
	for _, e := range elements {
		content = append(content, e...)
	}
	return EncodeTLV(0x30, content)
}

// Path is the decoded PKCS#15 Path structure:
// Path ::= SEQUENCE { path OCTET STRING, index INTEGER OPTIONAL, length [0] INTEGER OPTIONAL }
type Path struct {
	Path   []byte
	Index  *int
	Length *int
}

// ParsePathAttributes decodes a PKCS#15 Path SEQUENCE from buf.
func ParsePathAttributes(buf []byte) (Path, error) {
	nodes, err := DecodeSequence(buf)
	if err != nil {
		return Path{}, err
	}
	if len(nodes) == 0 || nodes[0].Tag != 0x04 {
		return Path{}, malformed("Path.path OCTET STRING", 0)
	}
	p := Path{Path: nodes[0].Value}

	for _, n := range nodes[1:] {
		switch n.Tag {
		case 0x02: // INTEGER index
			v, err := DecodeInteger(n.Value)
			if err != nil {
				return Path{}, err
			}
			idx := int(v)
			p.Index = &idx
		case 0x80: // [0] IMPLICIT INTEGER length
			v, err := DecodeInteger(n.Value)
			if err != nil {
				return Path{}, err
			}
			length := int(v)
			p.Length = &length
		}
	}
	return p, nil
}
