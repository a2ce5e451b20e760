package walletrpc

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// monero-wallet-rpc started with --rpc-login answers unauthenticated
// requests with an HTTP Digest challenge (MD5, qop=auth). Basic auth is
// not accepted, so the client answers the challenge on a retry.

// digestAuthorization builds the Authorization header answering a
// Digest challenge for one request.
func digestAuthorization(challenge, user, pass, method, uri string) (string, error) {
	const prefix = "Digest "
	if !strings.HasPrefix(challenge, prefix) {
		return "", fmt.Errorf("unsupported auth challenge %q", challenge)
	}
	params := parseDigestChallenge(challenge[len(prefix):])

	nonce := params["nonce"]
	if nonce == "" {
		return "", errors.New("digest challenge missing nonce")
	}
	if alg := params["algorithm"]; alg != "" && !strings.EqualFold(alg, "MD5") {
		return "", fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	realm := params["realm"]

	ha1 := md5hex(user + ":" + realm + ":" + pass)
	ha2 := md5hex(method + ":" + uri)

	var b strings.Builder
	if strings.Contains(params["qop"], "auth") {
		cnonce, err := newCnonce()
		if err != nil {
			return "", err
		}
		const nc = "00000001"
		response := md5hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
		fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q, qop=auth, nc=%s, cnonce=%q`,
			user, realm, nonce, uri, response, nc, cnonce)
	} else {
		response := md5hex(ha1 + ":" + nonce + ":" + ha2)
		fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
			user, realm, nonce, uri, response)
	}
	if opaque := params["opaque"]; opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	b.WriteString(`, algorithm=MD5`)
	return b.String(), nil
}

// parseDigestChallenge splits `k1="v1", k2=v2, ...` into a map. Values
// may be quoted; keys are lower-cased.
func parseDigestChallenge(s string) map[string]string {
	params := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t,")
		eq := strings.Index(s, "=")
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]
		var val string
		if strings.HasPrefix(s, `"`) {
			s = s[1:]
			if end := strings.Index(s, `"`); end >= 0 {
				val, s = s[:end], s[end+1:]
			} else {
				val, s = s, ""
			}
		} else {
			if end := strings.IndexAny(s, ", \t"); end >= 0 {
				val, s = s[:end], s[end:]
			} else {
				val, s = s, ""
			}
		}
		if key != "" {
			params[key] = val
		}
	}
	return params
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newCnonce() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate cnonce: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
