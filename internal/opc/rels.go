package opc

import (
	"encoding/xml"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// TargetMode distinguishes a relationship that points inside the
// package from one that points at an external resource (spec.md §3).
type TargetMode int

const (
	Internal TargetMode = iota
	External
)

// Relationship is one <Relationship> entry of a .rels part.
type Relationship struct {
	ID         string
	Type       string
	Target     string
	TargetMode TargetMode
}

type relationshipsXML struct {
	XMLName       xml.Name `xml:"Relationships"`
	Relationships []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// ParseRelationships decodes a .rels part's bytes into a relationship
// list. Relationships parts are read-only leaves of the schema (no
// other part references one via r:id), so a struct-based Unmarshal is
// sufficient here — the byte-preservation requirement applies to parts
// this pipeline does not touch, not to every parse of a part it reads.
func ParseRelationships(data []byte) ([]Relationship, error) {
	var doc relationshipsXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse relationships part")
	}
	out := make([]Relationship, 0, len(doc.Relationships))
	for _, r := range doc.Relationships {
		mode := Internal
		if r.TargetMode == "External" {
			mode = External
		}
		out = append(out, Relationship{ID: r.ID, Type: r.Type, Target: r.Target, TargetMode: mode})
	}
	return out, nil
}

// RelationshipsFor returns the parsed relationships for partName's
// sibling .rels part, or an empty list if none exists.
func (p *Package) RelationshipsFor(partName string) ([]Relationship, error) {
	data, ok := p.Part(relsPathFor(partName))
	if !ok {
		return nil, nil
	}
	return ParseRelationships(data)
}

// ResolveRelationship looks up relID among partName's relationships and
// resolves its Target to a canonical part name. It returns
// mcperr.DanglingRelID if relID is not present, or mcperr.InvalidTarget
// if the relationship's target is external (external relationships
// have no part to resolve to).
func (p *Package) ResolveRelationship(partName, relID string) (string, error) {
	rels, err := p.RelationshipsFor(partName)
	if err != nil {
		return "", err
	}
	for _, r := range rels {
		if r.ID != relID {
			continue
		}
		if r.TargetMode == External {
			return "", mcperr.New(mcperr.InvalidTarget, "relationship %q on %q is external", relID, partName)
		}
		return resolveTarget(dirOf(CanonicalName(partName)), r.Target), nil
	}
	return "", mcperr.New(mcperr.DanglingRelID, "relationship %q not found for part %q", relID, partName)
}
