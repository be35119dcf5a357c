package message

import "github.com/snmpworks/trapd/internal/usm"

// SecurityLevel mirrors RFC 3414 §3.1's msgFlags-derived level, ordered so
// that numeric comparison implements "level < minimum" directly.
type SecurityLevel int

const (
	NoAuthNoPriv SecurityLevel = 0
	AuthNoPriv   SecurityLevel = 1
	AuthPriv     SecurityLevel = 3
)

// User is a configured USM user, the "configured user" of spec §3.
type User struct {
	Name                 []byte
	NoAuth               bool
	AuthType             usm.AuthProtocol
	AuthPassphrase       []byte
	RequirePrivacy       bool
	PrivacyProtocol      usm.PrivProtocol
	PrivacyPassphrase    []byte
	EngineID             []byte
	SkipTimelinessChecks bool
}

// MinimumSecurityLevel computes (noAuth?0:1) | (requirePrivacy?2:0).
func (u User) MinimumSecurityLevel() SecurityLevel {
	level := 0
	if !u.NoAuth {
		level |= 1
	}
	if u.RequirePrivacy {
		level |= 2
	}
	return SecurityLevel(level)
}
