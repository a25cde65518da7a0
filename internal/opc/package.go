// Package opc implements the Open Packaging Conventions layer: a ZIP
// part map with tolerant name lookup, relationship parsing, and typed
// views over workbook/worksheet/theme parts (spec.md §4.3, §6).
package opc

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// Package is a part-name-keyed view over an OOXML ZIP: Part name
// (canonical slash-normalized, case-sensitive storage) -> bytes
// (spec.md §3). Lookup is tolerant: strip leading separators, treat
// backslash as slash, and fall back to an ASCII case-insensitive match.
type Package struct {
	parts map[string][]byte
	// order records the insertion (= original ZIP entry) order. Output
	// order does not come from it: ToBytes writes parts in PartNames'
	// sorted order (spec.md §4.4 invariant 2: "natural order of the
	// part-name map").
	order []string
}

// FromBytes reads every entry of a ZIP stream (skipping directory
// entries) into a Package. Duplicate entries differing only in
// canonical case are resolved by keeping the last-written entry (the
// "simplest safe default" named in spec.md §9 Open Questions).
func FromBytes(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CorruptWorkbook, err, "failed to open package as a ZIP archive")
	}

	pkg := &Package{parts: make(map[string][]byte, len(zr.File))}
	seenOrder := make(map[string]struct{})
	byFold := make(map[string]string) // lower-cased name -> stored name

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, mcperr.Wrap(mcperr.CorruptWorkbook, err, "failed to open ZIP entry %q", f.Name)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, mcperr.Wrap(mcperr.CorruptWorkbook, err, "failed to read ZIP entry %q", f.Name)
		}

		name := CanonicalName(f.Name)
		if prev, ok := byFold[strings.ToLower(name)]; ok && prev != name {
			delete(pkg.parts, prev)
			delete(seenOrder, prev)
			for i, n := range pkg.order {
				if n == prev {
					pkg.order = append(pkg.order[:i], pkg.order[i+1:]...)
					break
				}
			}
		}
		byFold[strings.ToLower(name)] = name
		pkg.parts[name] = raw
		if _, ok := seenOrder[name]; !ok {
			seenOrder[name] = struct{}{}
			pkg.order = append(pkg.order, name)
		}
	}

	return pkg, nil
}

// CanonicalName normalizes a part name the way the reader's tolerant
// lookup does: strip a leading separator and turn backslashes into
// forward slashes. It does not lower-case; callers needing the
// case-insensitive fallback should use Part, not this helper directly.
func CanonicalName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(name, "/")
}

// Part returns the bytes stored for name, tolerant of a leading
// separator, backslash separators, and ASCII case variance (spec.md
// §4.3, §6).
func (p *Package) Part(name string) ([]byte, bool) {
	canon := CanonicalName(name)
	if b, ok := p.parts[canon]; ok {
		return b, true
	}
	lower := strings.ToLower(canon)
	for k, v := range p.parts {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// SetPart installs or replaces the bytes for name, appending it to the
// insertion order if it is new.
func (p *Package) SetPart(name string, data []byte) {
	canon := CanonicalName(name)
	if _, existed := p.parts[canon]; !existed {
		p.order = append(p.order, canon)
	}
	p.parts[canon] = data
}

// DeletePart removes name from the package.
func (p *Package) DeletePart(name string) {
	canon := CanonicalName(name)
	if _, ok := p.parts[canon]; !ok {
		return
	}
	delete(p.parts, canon)
	for i, n := range p.order {
		if n == canon {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Has reports whether name resolves to a stored part.
func (p *Package) Has(name string) bool {
	_, ok := p.Part(name)
	return ok
}

// PartNames returns every stored part name, sorted (spec.md §4.4
// invariant: output ZIP part order is the natural, sorted order of the
// part-name map).
func (p *Package) PartNames() []string {
	names := make([]string, 0, len(p.parts))
	for n := range p.parts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToBytes serializes the package back into a ZIP stream, in sorted
// part-name order, leaving every part's bytes untouched (spec.md §4.4
// invariant 1).
func (p *Package) ToBytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range p.PartNames() {
		w, err := zw.Create(name)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.WriteFailed, err, "failed to create ZIP entry %q", name)
		}
		if _, err := w.Write(p.parts[name]); err != nil {
			return nil, mcperr.Wrap(mcperr.WriteFailed, err, "failed to write ZIP entry %q", name)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, mcperr.Wrap(mcperr.WriteFailed, err, "failed to finalize ZIP archive")
	}
	return buf.Bytes(), nil
}

// DirOf exports dirOf for packages (internal/macrostrip,
// internal/richdata) that need to resolve relationship targets outside
// the single-part helpers above.
func DirOf(partName string) string { return dirOf(partName) }

// BaseOf exports baseOf for the same callers as DirOf.
func BaseOf(partName string) string { return baseOf(partName) }

// RelsPathFor exports relsPathFor for the same callers as DirOf.
func RelsPathFor(partName string) string { return relsPathFor(partName) }

// ResolveTarget exports resolveTarget for the same callers as DirOf.
func ResolveTarget(sourcePartDir, target string) string { return resolveTarget(sourcePartDir, target) }

// dirOf returns the slash-terminated directory of a canonical part
// name ("" for a root-level part).
func dirOf(partName string) string {
	idx := strings.LastIndex(partName, "/")
	if idx < 0 {
		return ""
	}
	return partName[:idx+1]
}

// baseOf returns the final path segment of a canonical part name.
func baseOf(partName string) string {
	idx := strings.LastIndex(partName, "/")
	if idx < 0 {
		return partName
	}
	return partName[idx+1:]
}

// relsPathFor returns the canonical .rels part name for partName
// (spec.md §3: "`_rels/.rels`" for the package root, or
// "<dir>/_rels/<basename>.rels" for any other part).
func relsPathFor(partName string) string {
	partName = CanonicalName(partName)
	if partName == "" {
		return "_rels/.rels"
	}
	return dirOf(partName) + "_rels/" + baseOf(partName) + ".rels"
}

// resolveTarget resolves a relationship Target against the directory
// of the part whose .rels declared it, tolerating backslashes and a
// leading "/" meaning package-root-relative.
func resolveTarget(sourcePartDir, target string) string {
	target = strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return cleanPath(sourcePartDir + target)
}

// cleanPath resolves "." and ".." segments without touching the
// filesystem (path.Clean would also strip a meaningful trailing slash
// semantics we don't need here, so this is a minimal, dependency-free
// substitute scoped to part-name resolution).
func cleanPath(p string) string {
	segments := strings.Split(p, "/")
	var out []string
	for _, s := range segments {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}
