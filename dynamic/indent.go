package dynamic

import "bytes"

// indentBuffer accumulates JSON output, inserting newlines and indent
// prefixes when an indent string is configured. With an empty indent it
// produces compact single-line output.
type indentBuffer struct {
	bytes.Buffer
	indent string
	depth  int
}

func (b *indentBuffer) pretty() bool { return b.indent != "" }

func (b *indentBuffer) start() error {
	if b.pretty() {
		b.depth++
		return b.newLine(false)
	}
	return nil
}

func (b *indentBuffer) sep() error {
	if b.pretty() {
		_, err := b.WriteString(": ")
		return err
	}
	return b.WriteByte(':')
}

func (b *indentBuffer) end() error {
	if b.pretty() {
		b.depth--
		return b.newLine(false)
	}
	return nil
}

func (b *indentBuffer) maybeNext(first *bool) error {
	if *first {
		*first = false
		return nil
	}
	return b.next()
}

func (b *indentBuffer) next() error {
	if b.pretty() {
		return b.newLine(true)
	}
	return b.WriteByte(',')
}

func (b *indentBuffer) newLine(comma bool) error {
	if comma {
		if err := b.WriteByte(','); err != nil {
			return err
		}
	}
	if err := b.WriteByte('\n'); err != nil {
		return err
	}
	for i := 0; i < b.depth; i++ {
		if _, err := b.WriteString(b.indent); err != nil {
			return err
		}
	}
	return nil
}
