package engine

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedReport is returned when the engine's XML report cannot be decoded.
var ErrMalformedReport = errors.New("malformed analysis report")

type xmlReport struct {
	XMLName      xml.Name         `xml:"report"`
	BindingSites []xmlBindingSite `xml:"bindingsite"`
}

type xmlBindingSite struct {
	Identifiers struct {
		HetID    string `xml:"hetid"`
		Chain    string `xml:"chain"`
		Position int    `xml:"position"`
	} `xml:"identifiers"`
}

// SiteID identifies one binding site listed in a report.
type SiteID struct {
	ResidueID string
	Chain     string
	Position  int
}

// ParseReport extracts the binding-site identifiers from a PLIP XML report,
// in document order. Sites without a residue identifier are skipped.
func ParseReport(r io.Reader) ([]SiteID, error) {
	var report xmlReport
	if err := xml.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	sites := make([]SiteID, 0, len(report.BindingSites))
	for _, bs := range report.BindingSites {
		id := SiteID{
			ResidueID: strings.TrimSpace(bs.Identifiers.HetID),
			Chain:     strings.TrimSpace(bs.Identifiers.Chain),
			Position:  bs.Identifiers.Position,
		}
		if id.ResidueID == "" {
			continue
		}
		sites = append(sites, id)
	}
	return sites, nil
}
