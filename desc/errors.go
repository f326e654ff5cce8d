package desc

import "fmt"

// DuplicateSymbolError is returned when adding a file would register a
// fully-qualified name that a different definition already claims.
type DuplicateSymbolError struct {
	Symbol       string
	File         string
	ExistingFile string
}

func (e *DuplicateSymbolError) Error() string {
	if e.File == e.ExistingFile {
		return fmt.Sprintf("desc: duplicate symbol %q in %q", e.Symbol, e.File)
	}
	return fmt.Sprintf("desc: duplicate symbol %q in %q, already defined in %q", e.Symbol, e.File, e.ExistingFile)
}

// UnresolvedReferenceError is returned when a field, extension, or
// method names a type that is not defined in the pool or in the batch
// of files being added.
type UnresolvedReferenceError struct {
	Symbol          string
	ReferencingFile string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("desc: %q references unresolvable symbol %q", e.ReferencingFile, e.Symbol)
}

// MalformedDescriptorError is returned when a schema description is
// structurally invalid: a missing import, an unsupported syntax, a
// oneof index out of range, or similar.
type MalformedDescriptorError struct {
	File   string
	Reason string
}

func (e *MalformedDescriptorError) Error() string {
	return fmt.Sprintf("desc: malformed descriptor %q: %s", e.File, e.Reason)
}

func malformed(file, format string, args ...interface{}) error {
	return &MalformedDescriptorError{File: file, Reason: fmt.Sprintf(format, args...)}
}
