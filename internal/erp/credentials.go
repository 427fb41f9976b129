package erp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Credentials identify one ERP account. The secret is an API key or password
// and must never be logged or handed to a language model.
type Credentials struct {
	URL      string
	Database string
	Username string
	Secret   string
}

// Validate checks that every field is present and the URL is http(s).
func (c Credentials) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid ERP url %q", c.URL)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	return nil
}

// Fingerprint derives the session cache key. It is a one-way hash so that
// the cache never holds the secret itself.
func (c Credentials) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{strings.TrimRight(c.URL, "/"), c.Database, c.Username, c.Secret} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String redacts the secret so credentials are safe in %v output.
func (c Credentials) String() string {
	return fmt.Sprintf("%s db=%s user=%s secret=***", c.URL, c.Database, c.Username)
}

func (c Credentials) endpoint() string {
	return strings.TrimRight(c.URL, "/") + "/jsonrpc"
}
