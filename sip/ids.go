package sip

import (
	"fmt"
	"strings"

	"github.com/sipstack/siptx/internal/util"
)

// MagicCookie is the branch parameter prefix defined by RFC 3261 Section 8.1.1.7
// that marks a Via branch as generated by an RFC 3261 compliant transaction layer.
const MagicCookie = "z9hG4bK"

// GenerateBranch returns a new unique Via branch parameter value prefixed with
// [MagicCookie]. Callers that need to fold a monotonic counter into the branch
// (e.g. CANCEL/re-INVITE retransmission) can pass a non-zero seq; it is ignored
// otherwise.
func GenerateBranch(seq int) string {
	if seq == 0 {
		return MagicCookie + util.RandString(32)
	}
	return fmt.Sprintf("%s%d.%s", MagicCookie, seq, util.RandString(24))
}

// GenerateTag returns a new unique tag parameter value for a From or To header.
func GenerateTag(seq int) string {
	if seq == 0 {
		return util.RandString(16)
	}
	return fmt.Sprintf("%d.%s", seq, util.RandString(12))
}

// GenerateCallID returns a new unique Call-ID value. If host is non-empty it is
// appended after an "@", following the common "local@host" convention.
func GenerateCallID(seq int, host string) string {
	local := util.RandString(24)
	if seq != 0 {
		local = fmt.Sprintf("%d.%s", seq, local)
	}
	if host == "" {
		return local
	}
	return local + "@" + host
}

// IsRFC3261Branch reports whether branch was generated according to
// RFC 3261 Section 8.1.1.7, i.e. whether it carries the [MagicCookie] prefix.
func IsRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, MagicCookie)
}
