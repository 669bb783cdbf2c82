package sentinel

import "bytes"

// MaxTrailerLine is the longest line that can belong to a trailer. It bounds
// the number of bytes a Detector holds back; longer lines are committed as
// output immediately.
const MaxTrailerLine = 8192

// StdoutMetaLines is the number of metadata lines in the stdout trailer
// (the working directory). The stderr trailer carries none.
const StdoutMetaLines = 1

// Detector scans one output stream for a trailer. It is not safe for
// concurrent use.
type Detector struct {
	tok  Token
	meta int

	// tail holds bytes that might still be part of the trailer. It is either
	// empty or begins at a newline; bytes before its first newline continue a
	// line that was already committed and can never start a trailer.
	tail []byte

	done     bool
	code     int
	lines    []string
	leftover []byte
}

// NewDetector creates a detector for tok whose trailer carries metaLines
// lines between the injected newline and the token line.
func NewDetector(tok Token, metaLines int) *Detector {
	if metaLines < 0 {
		metaLines = 0
	}
	return &Detector{tok: tok, meta: metaLines}
}

// Feed consumes the next bytes of the stream and returns the bytes that are
// known to be command output. Once the trailer has been seen, Feed returns
// the remaining output and Done reports true; later input is kept as leftover.
func (d *Detector) Feed(p []byte) []byte {
	if d.done {
		d.leftover = append(d.leftover, p...)
		return nil
	}
	d.tail = append(d.tail, p...)

	start := bytes.IndexByte(d.tail, '\n')
	for start >= 0 {
		next := bytes.IndexByte(d.tail[start+1:], '\n')
		if next < 0 {
			break
		}
		end := start + 1 + next
		if code, ok := d.tok.Match(d.tail[start+1 : end]); ok {
			return d.finish(start, end, code)
		}
		start = end
	}

	hold := d.holdFrom()
	out := bytes.Clone(d.tail[:hold])
	d.tail = append(d.tail[:0], d.tail[hold:]...)
	return out
}

// holdFrom returns the offset of the earliest newline that could begin the
// trailer: the (meta+1)th newline from the end, stopping early at any line
// too long to be part of a trailer.
func (d *Detector) holdFrom() int {
	hold := len(d.tail)
	pos := len(d.tail)
	for i := 0; i <= d.meta; i++ {
		nl := bytes.LastIndexByte(d.tail[:pos], '\n')
		if nl < 0 || pos-nl-1 > MaxTrailerLine {
			break
		}
		hold = nl
		pos = nl
	}
	return hold
}

// finish strips the trailer. nl is the newline preceding the token line and
// end the newline terminating it.
func (d *Detector) finish(nl, end int, code int) []byte {
	pre := d.tail[:nl]
	lines := make([]string, d.meta)
	for i := d.meta - 1; i >= 0; i-- {
		idx := bytes.LastIndexByte(pre, '\n')
		lines[i] = string(pre[idx+1:])
		if idx < 0 {
			pre = pre[:0]
			break
		}
		pre = pre[:idx]
	}

	out := bytes.Clone(pre)
	d.leftover = append(d.leftover, d.tail[end+1:]...)
	d.tail = nil
	d.done = true
	d.code = code
	d.lines = lines
	return out
}

// Flush returns all held-back bytes. It is used when the stream ends or the
// call is abandoned before the trailer arrived.
func (d *Detector) Flush() []byte {
	out := d.tail
	d.tail = nil
	return out
}

// Done reports whether the trailer has been seen.
func (d *Detector) Done() bool {
	return d.done
}

// ExitCode returns the exit status from the token line. It is only
// meaningful once Done reports true.
func (d *Detector) ExitCode() int {
	return d.code
}

// Meta returns the trailer's metadata lines.
func (d *Detector) Meta() []string {
	return d.lines
}

// Leftover returns bytes that arrived after the token line.
func (d *Detector) Leftover() []byte {
	return d.leftover
}
