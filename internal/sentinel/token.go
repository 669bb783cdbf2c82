// Package sentinel implements the completion protocol used to find the end of
// each command written to a persistent shell.
//
// After every command the shell prints a trailer to both output streams:
//
//	"\n" + meta lines + token + " " + exit status + "\n"
//
// The injected leading newline guarantees the token starts a line even when
// the command's output did not end with one. Stripping the trailer restores
// the command's output exactly.
//
// A shell whose echo/printf have been aliased or redefined by the user can
// defeat detection; the session then times out.
package sentinel

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

// tokenRandomBytes is the number of random bytes in each token.
const tokenRandomBytes = 16

// Token is a unique marker for one command execution.
type Token string

// String returns the token text.
func (t Token) String() string {
	return string(t)
}

// Match reports whether line is exactly the token followed by whitespace and
// an integer exit status. A trailing carriage return is ignored. Any other
// text, including the token appearing inside a longer line, does not match.
func (t Token) Match(line []byte) (code int, ok bool) {
	if t == "" {
		return 0, false
	}
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(t)) {
		return 0, false
	}
	rest := line[len(t):]

	ws := 0
	for ws < len(rest) && (rest[ws] == ' ' || rest[ws] == '\t') {
		ws++
	}
	if ws == 0 || ws == len(rest) {
		return 0, false
	}
	num := rest[ws:]

	digits := num
	if num[0] == '-' || num[0] == '+' {
		digits = num[1:]
	}
	if len(digits) == 0 {
		return 0, false
	}
	for _, b := range digits {
		if b < '0' || b > '9' {
			return 0, false
		}
	}

	code, err := strconv.Atoi(string(num))
	if err != nil {
		return 0, false
	}
	return code, true
}

// Generator produces tokens that are never reused within its lifetime.
// The zero value is ready to use and safe for concurrent use.
type Generator struct {
	n atomic.Uint64
}

// Next returns a fresh token of the form __SHELLY_<counter>_<32 hex chars>.
func (g *Generator) Next() Token {
	n := g.n.Add(1)
	b := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand.Read failed: " + err.Error())
	}
	return Token("__SHELLY_" + strconv.FormatUint(n, 10) + "_" + hex.EncodeToString(b))
}
