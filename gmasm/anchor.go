package gmasm

import "fmt"

// Mark is a stable position inside a SourceFile's text. Unlike a raw line
// number it survives edits made to the buffer after the mark was created:
// the owning SourceFile renumbers marks when lines are inserted or removed
// above them. Marks are allocated by SourceFile.MarkAt, one per call.
type Mark struct {
	file *SourceFile
	id   int
}

// Line returns the mark's current 0-based line, or -1 if the mark has been
// deleted (e.g. because its line was removed from the buffer).
func (m Mark) Line() int {
	if m.file == nil {
		return -1
	}
	return m.file.lineOf(m.id)
}

// SourceFile owns the text of one imported (or top-level) source file and
// the marks that reference positions within it. It never owns the
// underlying editor buffer (out of scope per the core's collaborator
// boundary) -- it only tracks line numbers for marks created against it.
type SourceFile struct {
	Path  string
	Lines []string

	nextMarkID int
	markLine   map[int]int
}

// NewSourceFile wraps already-split source lines under the given path.
func NewSourceFile(path string, lines []string) *SourceFile {
	return &SourceFile{
		Path:     path,
		Lines:    lines,
		markLine: make(map[int]int),
	}
}

// MarkAt allocates a new Mark anchored at the given 0-based line.
func (f *SourceFile) MarkAt(line int) Mark {
	id := f.nextMarkID
	f.nextMarkID++
	f.markLine[id] = line
	return Mark{file: f, id: id}
}

func (f *SourceFile) lineOf(id int) int {
	line, ok := f.markLine[id]
	if !ok {
		return -1
	}
	return line
}

// ReprojectLine moves every mark that was anchored at 'from' to 'to'. It
// deletes no marks; DeleteLine removes the marks of a line that no longer
// exists.
func (f *SourceFile) ReprojectLine(from, to int) {
	for id, line := range f.markLine {
		if line == from {
			f.markLine[id] = to
		}
	}
}

// DeleteLine marks every mark anchored at 'line' as deleted.
func (f *SourceFile) DeleteLine(line int) {
	for id, l := range f.markLine {
		if l == line {
			delete(f.markLine, id)
		}
	}
}

// SourceAnchor is a stable (file, mark) reference used to report errors and
// bind breakpoints. It is created on demand during parsing, and newAnchor
// allocates its mark at once.
type SourceAnchor struct {
	file *SourceFile
	mark Mark
}

func newAnchor(file *SourceFile, line int) SourceAnchor {
	return SourceAnchor{file: file, mark: file.MarkAt(line)}
}

// AnchorAt is the exported form of newAnchor, used by collaborators
// outside the package that need to bind a breakpoint to a cursor
// position without going through the parser.
func (f *SourceFile) AnchorAt(line int) SourceAnchor {
	return newAnchor(f, line)
}

// Line returns the anchor's current 0-based line.
func (a SourceAnchor) Line() int {
	return a.mark.Line()
}

// File returns the name of the file this anchor belongs to.
func (a SourceAnchor) File() string {
	if a.file == nil {
		return ""
	}
	return a.file.Path
}

// Iter returns the current byte offset of the anchor's line within its
// file's text, so callers can seek straight to the anchored line.
func (a SourceAnchor) Iter() int {
	line := a.Line()
	if line < 0 || a.file == nil {
		return -1
	}
	off := 0
	for i := 0; i < line && i < len(a.file.Lines); i++ {
		off += len(a.file.Lines[i]) + 1
	}
	return off
}

func (a SourceAnchor) String() string {
	return fmt.Sprintf("%s:%d", a.File(), a.Line()+1)
}
