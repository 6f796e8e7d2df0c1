package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"
)

const codeLength = 12

// Identity is the host fingerprint the default access code is derived from.
type Identity struct {
	User     string
	Hostname string
	CPUs     int
}

// CurrentIdentity reads the identity of the running process. Lookup failures
// fall back to fixed placeholders so a code can always be derived.
func CurrentIdentity() Identity {
	id := Identity{User: "unknown", Hostname: "localhost", CPUs: runtime.NumCPU()}
	if u, err := user.Current(); err == nil && u.Username != "" {
		id.User = u.Username
	} else if name := os.Getenv("USER"); name != "" {
		id.User = name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		id.Hostname = host
	}
	return id
}

// DeriveCode returns the first 12 hex characters of sha256("user@host#cpus").
func DeriveCode(id Identity) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s@%s#%d", id.User, id.Hostname, id.CPUs)))
	return hex.EncodeToString(sum[:])[:codeLength]
}

// EffectiveCode prefers a configured override over the derived code.
func EffectiveCode(override string, id Identity) string {
	if code := strings.TrimSpace(override); code != "" {
		return code
	}
	return DeriveCode(id)
}
