package probe

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultProtocol is the protocol label attached to every valid target.
//
// It is reported even when the submitted URL already carried https://.
// Consumers of the stream depend on this label, so Target.Scheme carries the
// real scheme instead of changing it.
const DefaultProtocol = "http"

// ErrInvalidTarget is returned when a raw string cannot be probed.
var ErrInvalidTarget = errors.New("invalid domain or url")

// Normalize validates raw and turns it into a Target. Rules, in order:
//  1. strings containing '@' are rejected outright;
//  2. a missing http:// or https:// prefix is replaced by http://;
//  3. the result must parse as an absolute http(s) URL with a usable host.
//
// raw is checked as given; surrounding whitespace makes it invalid.
func Normalize(id, raw string) (Target, error) {
	candidate := raw
	if strings.Contains(candidate, "@") {
		return Target{}, fmt.Errorf("%w: user info not allowed", ErrInvalidTarget)
	}
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = DefaultProtocol + "://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if err := checkURL(u); err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return Target{
		ID:       id,
		Raw:      raw,
		URL:      u.String(),
		Scheme:   u.Scheme,
		Protocol: DefaultProtocol,
	}, nil
}

func checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Opaque != "" {
		return errors.New("opaque url")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("empty host")
	}
	if strings.ContainsAny(host, " \t\r\n") {
		return errors.New("whitespace in host")
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
	}
	return nil
}
