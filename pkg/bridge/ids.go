// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/id"
)

var (
	localpartRe = regexp.MustCompile(`^(?:[a-z0-9._\-]|=[0-9a-fA-F]{2}){1,255}$`)
	hostnameRe  = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?)*$`)
	ipv4Re      = regexp.MustCompile(`^(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)){3}$`)
	ipv6Re      = regexp.MustCompile(`(?i)^\[([0-9a-f:.]+)\]$`)
)

// ToRemoteIdentifier formats a local username as a federation user ID on
// the given home domain.
func ToRemoteIdentifier(username, homeDomain string) id.UserID {
	return id.UserID("@" + username + ":" + homeDomain)
}

// splitIdentifier splits a user ID on the first domain separator after the
// sigil. It does not validate either half.
func splitIdentifier(mxid string) (localpart, domain string, err error) {
	sep := strings.IndexByte(mxid, ':')
	if sep < 1 || !strings.HasPrefix(mxid, "@") {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedIdentifier, mxid)
	}
	return mxid[1:sep], mxid[sep+1:], nil
}

// ExtractDomain returns everything after the first domain separator,
// including any port.
func ExtractDomain(mxid id.UserID) (string, error) {
	_, domain, err := splitIdentifier(string(mxid))
	return domain, err
}

// ParseRemoteIdentifier splits a federation user ID into its localpart and
// domain and reports whether the domain is the bridge's home domain.
func ParseRemoteIdentifier(mxid id.UserID, homeDomain string) (localpart, domain string, isLocal bool, err error) {
	localpart, domain, err = splitIdentifier(string(mxid))
	if err != nil {
		return "", "", false, err
	}
	return localpart, domain, domain == homeDomain, nil
}

// LocalUsername returns the local username a federation user ID maps to.
// Users on the home domain map to their bare localpart, everyone else is
// known locally by their full user ID.
func LocalUsername(mxid id.UserID, homeDomain string) (username string, isLocal bool, err error) {
	localpart, _, isLocal, err := ParseRemoteIdentifier(mxid, homeDomain)
	if err != nil {
		return "", false, err
	}
	if isLocal {
		return localpart, true, nil
	}
	return string(mxid), false, nil
}

// ValidateRemoteIdentifier reports whether mxid is a syntactically valid
// federation user ID: an allowed localpart, a hostname, IPv4 or bracketed
// IPv6 server and an optional port in the range 1-65535.
func ValidateRemoteIdentifier(mxid string) bool {
	localpart, server, err := splitIdentifier(mxid)
	if err != nil {
		return false
	}
	if !localpartRe.MatchString(localpart) {
		return false
	}

	host, port := server, ""
	if strings.HasPrefix(server, "[") {
		end := strings.IndexByte(server, ']')
		if end < 0 {
			return false
		}
		host, port = server[:end+1], server[end+1:]
		if port != "" {
			if port[0] != ':' {
				return false
			}
			port = port[1:]
			if port == "" {
				return false
			}
		}
	} else if h, p, found := strings.Cut(server, ":"); found {
		host, port = h, p
		if port == "" {
			return false
		}
	}

	validHost := (len(host) <= 253 && hostnameRe.MatchString(host)) ||
		ipv4Re.MatchString(host) ||
		ipv6Re.MatchString(host)
	if !validHost {
		return false
	}

	if port != "" {
		for _, c := range port {
			if c < '0' || c > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	return true
}
