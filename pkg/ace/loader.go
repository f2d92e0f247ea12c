package ace

import (
	"bytes"

	"github.com/barnettlynn/seaccess/pkg/fcp"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
	"github.com/barnettlynn/seaccess/pkg/tlv"
)

// PKCS15AID and GPACAID are the well-known AIDs the loader tries in order
// before falling back to EF(DIR), per §6.
var (
	PKCS15AID = []byte{0xA0, 0x00, 0x00, 0x00, 0x63, 0x50, 0x4B, 0x43, 0x53, 0x2D, 0x31, 0x35}
	GPACAID   = []byte{0xA0, 0x00, 0x00, 0x00, 0x18, 0x47, 0x50, 0x41, 0x43, 0x2D, 0x31, 0x35}
)

const (
	fidODF       = 0x5031
	fidTokenInfo = 0x5032
	accessControlOID = "1.2.840.114283.200.1.1"
)

// CardAccess is the narrow file-access surface the Loader needs: SELECT by
// AID/FID/path and READ BINARY/READ RECORD. The engine implements this as
// engine.BasicChannelCardAccess, over the Reader's basic channel; there is
// no implementation over a logical channel or over the Terminal's
// SimIOExchange.
type CardAccess interface {
	SelectByAID(aid []byte) (fcpOrSelectResponse []byte, err error)
	SelectByFID(fid [2]byte) (fcp []byte, err error)
	SelectByPath(path []byte) (fcp []byte, err error)
	ReadBinary(offset, length int) ([]byte, error)
	ReadRecord(recordNum, length int) ([]byte, error)
}

// Loader is the ARF/PKCS#15 Loader (C8).
type Loader struct {
	access CardAccess

	// acConditionsCache memoizes decoded EF(ACConditions) bytes keyed by
	// their path, so repeated references parse once per refresh.
	acConditionsCache map[string][]conditionEntry
}

// NewLoader builds a Loader over access.
func NewLoader(access CardAccess) *Loader {
	return &Loader{access: access, acConditionsCache: map[string][]conditionEntry{}}
}

// Reload walks EF(DIR)->EF(ODF)->EF(DODF)->EF(ACMain)->EF(ACRules)->
// EF(ACConditions) and populates cache. If the RefreshTag found in
// EF(ACMain) equals cache's current tag, no reload is performed. If no
// usable PKCS#15 root can be found, ACE is disabled for this Reader: the
// caller must fail closed (every AID denied).
func (l *Loader) Reload(cache *Cache) error {
	root, err := l.findRoot()
	if err != nil {
		return err
	}

	odfPath, err := l.readODF(root)
	if err != nil {
		return err
	}
	acMainPath, err := l.readDODF(odfPath)
	if err != nil {
		return err
	}

	refreshTag, acRulesPath, err := l.readACMain(acMainPath)
	if err != nil {
		return err
	}
	if cache.RefreshTag() != nil && bytes.Equal(cache.RefreshTag(), refreshTag) {
		return nil // no reload needed
	}

	cache.Reset()
	l.acConditionsCache = map[string][]conditionEntry{}

	rules, err := l.readACRules(acRulesPath)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		entries, err := l.readACConditions(rule.conditionsPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			cache.PutRule(ruleAID(rule.aidRef), e.hash, e.access)
		}
	}
	cache.SetRefreshTag(refreshTag)
	return nil
}

func ruleAID(ref AidRef) []byte {
	if ref.Kind == AidRefSpecific {
		return ref.AID
	}
	return nil // default-application / for-all keys collapse to the wildcard AID key
}

// findRoot implements §4.8 discovery order 1-3; step 4 (ACE disabled) is
// signaled by returning an error, which the caller treats as fail-closed.
func (l *Loader) findRoot() ([]byte, error) {
	if _, err := l.access.SelectByAID(PKCS15AID); err == nil {
		return nil, nil // current DF is the PKCS#15 ADF; EF(ODF) is relative to it
	}
	if _, err := l.access.SelectByAID(GPACAID); err == nil {
		return nil, nil
	}

	dir, err := l.access.SelectByPath([]byte{0x3F, 0x00, 0x2F, 0x00})
	if err != nil {
		return nil, &seaerr.UnsupportedOperationError{Operation: "no usable PKCS#15 root (ACE disabled)"}
	}
	_ = dir
	raw, err := l.access.ReadRecord(1, 0xFF)
	if err != nil {
		return nil, &seaerr.UnsupportedOperationError{Operation: "no usable PKCS#15 root (ACE disabled)"}
	}
	node, err := tlv.ParseNext(raw, 0)
	if err != nil || node.Tag != 0x61 {
		return nil, &seaerr.UnsupportedOperationError{Operation: "no usable PKCS#15 root (ACE disabled)"}
	}
	entries, err := tlv.DecodeSequence(node.Value)
	if err != nil {
		return nil, err
	}
	var path []byte
	for _, e := range entries {
		if e.Tag == 0x51 {
			path = e.Value
		}
	}
	if path == nil {
		return nil, &seaerr.UnsupportedOperationError{Operation: "EF(DIR) entry missing Path (ACE disabled)"}
	}
	if _, err := l.access.SelectByPath(path); err != nil {
		return nil, &seaerr.UnsupportedOperationError{Operation: "PKCS#15 path unreachable (ACE disabled)"}
	}
	return path, nil
}

// readFile reads the body of the file just SELECTed, whose response
// selectResp may carry an FCP template or legacy TS 51.011 layout. Record-
// structured EFs (ACRules/ACConditions are often linear-fixed on real
// cards) are read record by record; anything else falls back to a single
// transparent READ BINARY, which is also what every card that returns no
// usable FCP gets.
func (l *Loader) readFile(selectResp []byte) ([]byte, error) {
	fd, err := fcp.Decode(selectResp)
	if err != nil {
		return l.access.ReadBinary(0, 0xFFFF)
	}
	switch fd.FileStructure {
	case fcp.StructureLinearFixed, fcp.StructureLinearVariable, fcp.StructureCyclic:
		return l.readAllRecords(fd)
	default:
		return l.access.ReadBinary(0, 0xFFFF)
	}
}

// readAllRecords concatenates every record of a linear/cyclic EF in order.
// When the FCP didn't report a record count, records are read until the
// card answers reference-not-found, which marks the end of the file.
func (l *Loader) readAllRecords(fd fcp.File) ([]byte, error) {
	recLen := fd.MaxRecordSize
	if recLen == 0 {
		recLen = 0xFF
	}
	open := fd.NumRecords == 0
	limit := fd.NumRecords
	if open {
		limit = 0xFF
	}

	var out []byte
	for i := 1; i <= limit; i++ {
		data, err := l.access.ReadRecord(i, recLen)
		if err != nil {
			if open {
				break
			}
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// readODF locates the DODF path (tag 0xA7) within EF(ODF).
func (l *Loader) readODF(root []byte) ([]byte, error) {
	selectResp, err := l.access.SelectByFID([2]byte{0x50, 0x31})
	if err != nil {
		return nil, err
	}
	raw, err := l.readFile(selectResp)
	if err != nil {
		return nil, err
	}
	entries, err := tlv.DecodeSequence(raw)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Tag != 0xA7 {
			continue
		}
		p, err := tlv.ParsePathAttributes(e.Value)
		if err != nil {
			return nil, err
		}
		return p.Path, nil
	}
	return nil, &seaerr.ReferenceNotFoundError{Reference: "EF(ODF) DODF entry (tag A7)"}
}

// readDODF locates the Access Control OID entry's Path (EF(ACMain)) within
// EF(DODF).
func (l *Loader) readDODF(dodfPath []byte) ([]byte, error) {
	selectResp, err := l.access.SelectByPath(dodfPath)
	if err != nil {
		return nil, err
	}
	raw, err := l.readFile(selectResp)
	if err != nil {
		return nil, err
	}
	entries, err := tlv.DecodeSequence(raw)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Tag != 0xA1 {
			continue
		}
		inner, err := tlv.DecodeSequence(e.Value)
		if err != nil {
			return nil, err
		}
		var oid string
		var pathNode *tlv.Node
		for i := range inner {
			switch inner[i].Tag {
			case 0x06:
				o, err := tlv.DecodeOid(inner[i].Value)
				if err != nil {
					return nil, err
				}
				oid = o
			case 0x30:
				n := inner[i]
				pathNode = &n
			}
		}
		if oid == accessControlOID && pathNode != nil {
			p, err := tlv.ParsePathAttributes(pathNode.Value)
			if err != nil {
				return nil, err
			}
			return p.Path, nil
		}
	}
	return nil, &seaerr.ReferenceNotFoundError{Reference: "EF(DODF) access-control OID entry"}
}

// readACMain decodes EF(ACMain): SEQUENCE { refreshTag OCTET STRING(8),
// acRulesPath Path }.
func (l *Loader) readACMain(path []byte) (refreshTag []byte, acRulesPath []byte, err error) {
	selectResp, err := l.access.SelectByPath(path)
	if err != nil {
		return nil, nil, err
	}
	raw, err := l.readFile(selectResp)
	if err != nil {
		return nil, nil, err
	}
	entries, err := tlv.DecodeSequence(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) < 2 || entries[0].Tag != 0x04 {
		return nil, nil, &seaerr.MalformedError{Expected: "ACMain refreshTag OCTET STRING", AtOffset: 0}
	}
	refreshTag = entries[0].Value
	p, err := tlv.ParsePathAttributes(entries[1].Value)
	if err != nil {
		return nil, nil, err
	}
	return refreshTag, p.Path, nil
}

type acRule struct {
	aidRef         AidRef
	conditionsPath []byte
}

// readACRules decodes EF(ACRules): SEQUENCE of
// { aidRef (choice), acConditionsPath Path }.
func (l *Loader) readACRules(path []byte) ([]acRule, error) {
	selectResp, err := l.access.SelectByPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := l.readFile(selectResp)
	if err != nil {
		return nil, err
	}
	entries, err := tlv.DecodeSequence(raw)
	if err != nil {
		return nil, err
	}

	var rules []acRule
	for _, e := range entries {
		inner, err := tlv.DecodeSequence(e.Value)
		if err != nil {
			return nil, err
		}
		if len(inner) < 2 {
			return nil, &seaerr.MalformedError{Expected: "ACRule {aidRef, acConditionsPath}", AtOffset: e.ValueOffset}
		}
		ref, err := decodeAidRef(inner[0])
		if err != nil {
			return nil, err
		}
		p, err := tlv.ParsePathAttributes(inner[1].Value)
		if err != nil {
			return nil, err
		}
		rules = append(rules, acRule{aidRef: ref, conditionsPath: p.Path})
	}
	return rules, nil
}

func decodeAidRef(n tlv.Node) (AidRef, error) {
	switch n.Tag {
	case 0x4F:
		return AidRef{Kind: AidRefSpecific, AID: n.Value}, nil
	case 0xC0:
		return AidRef{Kind: AidRefDefaultSentinel}, nil
	case 0x81:
		return AidRef{Kind: AidRefForDefault}, nil
	case 0x82:
		return AidRef{Kind: AidRefForAll}, nil
	default:
		return AidRef{}, &seaerr.MalformedError{Expected: "ACRule aidRef choice", AtOffset: n.ValueOffset}
	}
}

type conditionEntry struct {
	hash   []byte // nil means wildcard
	access ChannelAccess
}

// readACConditions decodes EF(ACConditions): SEQUENCE of Condition entries
// { certHash OCTET STRING OPTIONAL, accessRules [0] AccessRules OPTIONAL }.
func (l *Loader) readACConditions(path []byte) ([]conditionEntry, error) {
	key := string(path)
	if cached, ok := l.acConditionsCache[key]; ok {
		return cached, nil
	}

	selectResp, err := l.access.SelectByPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := l.readFile(selectResp)
	if err != nil {
		return nil, err
	}
	nodes, err := tlv.DecodeSequence(raw)
	if err != nil {
		return nil, err
	}

	var entries []conditionEntry
	for _, n := range nodes {
		inner, err := tlv.DecodeSequence(n.Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, decodeCondition(inner))
	}

	l.acConditionsCache[key] = entries
	return entries, nil
}

func decodeCondition(inner []tlv.Node) conditionEntry {
	if len(inner) == 0 {
		// Empty entry body => one default-denied record.
		return conditionEntry{access: Denied("empty condition entry")}
	}

	var hash []byte
	access := ChannelAccess{Access: Allowed, ApduAccess: Allowed, NfcEventAccess: Allowed}
	haveConstraints := false

	for _, n := range inner {
		switch n.Tag {
		case 0x04: // certHash
			hash = n.Value
		case 0xA0: // [0] AccessRules
			haveConstraints = true
			rules, err := tlv.DecodeSequence(n.Value)
			if err == nil {
				applyAccessRules(&access, rules)
			}
		}
	}
	_ = haveConstraints
	return conditionEntry{hash: hash, access: access}
}

func applyAccessRules(access *ChannelAccess, rules []tlv.Node) {
	for _, r := range rules {
		switch r.Tag {
		case 0xA0: // [0] APDUAccessRule
			inner, err := tlv.DecodeSequence(r.Value)
			if err != nil {
				continue
			}
			for _, c := range inner {
				switch c.Tag {
				case 0x80: // [0] APDUPermission, primitive BOOLEAN
					if len(c.Value) == 1 && c.Value[0] == 0x00 {
						access.ApduAccess = AccessDenied
					} else {
						access.ApduAccess = Allowed
					}
				case 0xA1: // [1] APDUFilter, SEQUENCE of OCTET STRING
					filters, err := tlv.DecodeSequence(c.Value)
					if err != nil {
						continue
					}
					access.UseApduFilter = true
					for _, f := range filters {
						if len(f.Value) != 8 {
							continue
						}
						var filter ApduFilter
						copy(filter.Header[:], f.Value[0:4])
						copy(filter.Mask[:], f.Value[4:8])
						access.ApduFilter = append(access.ApduFilter, filter)
					}
				}
			}
		case 0xA1: // [1] NFCAccessRule
			inner, err := tlv.DecodeSequence(r.Value)
			if err != nil {
				continue
			}
			for _, c := range inner {
				if c.Tag == 0x80 && len(c.Value) == 1 { // [0] NFCPermission
					if c.Value[0] == 0x00 {
						access.NfcEventAccess = AccessDenied
					} else {
						access.NfcEventAccess = Allowed
					}
				}
			}
		}
	}
}
