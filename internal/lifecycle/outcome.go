package lifecycle

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// NoWinner is the display label of an undecided outcome.
const NoWinner = "no winner"

// Outcome is a decoded finalOutcome value.
type Outcome struct {
	Decided bool            `json:"decided"`
	Winner  *common.Address `json:"winner,omitempty"`
	Label   string          `json:"label"`
	Raw     common.Hash     `json:"raw"`
}

func (o Outcome) String() string { return o.Label }

// EncodeOutcome packs a vote into 32 bytes, zero-padded on the left. A hex
// account identifier is packed as its 20 address bytes; anything else as its
// UTF-8 bytes.
func EncodeOutcome(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.BytesToHash(common.HexToAddress(s).Bytes()), nil
	}
	b := []byte(s)
	switch {
	case len(b) == 0:
		return out, domain.Invalid("outcome", "required")
	case len(b) > len(out):
		return out, domain.Invalid("outcome", "longer than %d bytes", len(out))
	case bytes.IndexByte(b, 0) >= 0:
		return out, domain.Invalid("outcome", "must not contain NUL bytes")
	}
	copy(out[len(out)-len(b):], b)
	return out, nil
}

// DecodeOutcome turns a finalOutcome into a winner address or a label. The
// all-zero value is undecided and never decoded as text. participants, when
// given, settle values that could read as either.
func DecodeOutcome(raw common.Hash, participants ...common.Address) Outcome {
	if raw == (common.Hash{}) {
		return Outcome{Label: NoWinner}
	}
	out := Outcome{Decided: true, Raw: raw}
	addrShaped := isZero(raw[:12])
	addr := common.BytesToAddress(raw[12:])

	if addrShaped {
		for _, p := range participants {
			if p == addr {
				return out.winner(addr)
			}
		}
	}
	if label, ok := printable(raw[:]); ok {
		out.Label = label
		return out
	}
	if addrShaped {
		return out.winner(addr)
	}
	out.Label = raw.Hex()
	return out
}

func (o Outcome) winner(addr common.Address) Outcome {
	o.Winner = &addr
	o.Label = addr.Hex()
	return o
}

func printable(b []byte) (string, bool) {
	s := string(bytes.ReplaceAll(b, []byte{0}, nil))
	if s == "" || !utf8.ValidString(s) {
		return "", false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return "", false
		}
	}
	return s, true
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
