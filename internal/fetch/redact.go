package fetch

import (
	"errors"
	"net/url"
)

// Redact drops the query string and userinfo: subscription tokens usually
// live there and must not reach the logs.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid url)"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "..."
	}
	u.Fragment = ""
	return u.String()
}

// redactCause rewrites the URL net/http and net/url embed in their errors,
// so printing a FetchError never reveals the token.
func redactCause(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = Redact(ue.URL)
	}
	return err
}
