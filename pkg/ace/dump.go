package ace

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// DumpRule is one flattened row of a Cache for display purposes, as
// produced by Cache.DumpRules.
type DumpRule struct {
	AID    []byte
	Hash   []byte
	Access ChannelAccess
}

func (a Access) String() string {
	switch a {
	case Allowed:
		return "ALLOWED"
	case AccessDenied:
		return "DENIED"
	default:
		return "UNDEFINED"
	}
}

func hexOrAny(b []byte) string {
	if len(b) == 0 {
		return "<any>"
	}
	return fmt.Sprintf("%X", b)
}

// WriteRulesTable renders rules as a table to w, the way "secli rules dump"
// displays the loaded Access Rule Cache for an operator.
func WriteRulesTable(w io.Writer, rules []DumpRule) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"AID", "Cert Hash", "Channel", "APDU", "NFC", "Filtered", "Reason"})

	for _, r := range rules {
		t.AppendRow(table.Row{
			hexOrAny(r.AID),
			hexOrAny(r.Hash),
			r.Access.Access,
			r.Access.ApduAccess,
			r.Access.NfcEventAccess,
			r.Access.UseApduFilter,
			r.Access.Reason,
		})
	}

	t.Render()
}

// ReaderRow is one row of "secli readers".
type ReaderRow struct {
	Name        string
	Kind        string
	CardPresent bool
	CacheLoaded bool
	RefreshTag  []byte
}

// WriteReadersTable renders readers as a table to w.
func WriteReadersTable(w io.Writer, rows []ReaderRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Reader", "Kind", "Card Present", "ACE Loaded", "Refresh Tag"})

	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.Kind, r.CardPresent, r.CacheLoaded, hexOrAny(r.RefreshTag)})
	}

	t.Render()
}
