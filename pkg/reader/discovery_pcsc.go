package reader

import (
	"strings"

	"github.com/barnettlynn/seaccess/pkg/terminal"
)

// DiscoverPCSC implements the concrete, PC/SC-backed half of §4.6 step 1
// ("discover drivers") used outside of an Android-style platform service
// registry: it enumerates scard.ListReaders() and classifies each reader
// name into SIM/eSE/SD/other by substring heuristics, the same best-effort
// classification 1ph-sim_reader's card.Reader layer performs ad hoc per
// tool. Every PC/SC reader is assumed to have declared BIND_TERMINAL and,
// for SIM/eSE/SD-classified readers, SYSTEM_TERMINAL — PC/SC readers are
// always locally attached hardware, never a sandboxed platform service.
func DiscoverPCSC() ([]Candidate, error) {
	names, err := terminal.ListReaders()
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		kind := classifyReaderName(name)
		readerName := name
		candidates = append(candidates, Candidate{
			Kind: kind,
			Permissions: map[Permission]bool{
				PermBindTerminal:   true,
				PermSystemTerminal: true,
			},
			Open: func() (terminal.Terminal, error) {
				return terminal.OpenPCSC(readerName)
			},
		})
	}
	return candidates, nil
}

// FilterDrivers narrows candidates to the Kinds named in drivers, per
// internal/config's readers.drivers whitelist. "pcsc" keeps every candidate
// regardless of Kind; "sim"/"ese"/"sd" keep only candidates DiscoverPCSC
// classified that way. Shared by seaccessd and secli so both bind the same
// filtered set config.Validate already checked drivers against.
func FilterDrivers(candidates []Candidate, drivers []string) []Candidate {
	for _, d := range drivers {
		if d == "pcsc" {
			return candidates
		}
	}
	wanted := map[Kind]bool{}
	for _, d := range drivers {
		switch d {
		case "sim":
			wanted[KindSIM] = true
		case "ese":
			wanted[KindESE] = true
		case "sd":
			wanted[KindSD] = true
		}
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if wanted[c.Kind] {
			out = append(out, c)
		}
	}
	return out
}

// classifyReaderName guesses a Kind from common PC/SC reader name
// substrings (vendor SIM/eSE modules advertise themselves this way; a
// contactless/contact-smartcard reader with none of these markers is
// classified as KindOther).
func classifyReaderName(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "sim"):
		return KindSIM
	case strings.Contains(lower, "ese") || strings.Contains(lower, "embedded se") || strings.Contains(lower, "secure element"):
		return KindESE
	case strings.Contains(lower, "sd card") || strings.Contains(lower, "microsd") || strings.Contains(lower, " sd "):
		return KindSD
	default:
		return KindOther
	}
}
