package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"streamengine/internal/model"
	"streamengine/internal/util"
)

// isEndpointSafe validates that a resolved SSE endpoint is safe to dial.
// Grounded on relay_pool.go's isRelayURLSafe/isRelayIPSafe: the upstream
// base URL is operator configuration, but the fully resolved per-channel
// URL is still attacker-reachable surface (an operator could point ENDPOINT
// at an internal service via config injection) and gets the same SSRF
// guard the teacher applies to relay URLs.
func isEndpointSafe(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if util.IsLoopbackHost(host) {
		return true
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hostnames are allowed through (may be a valid
		// external host behind a DNS backend we can't see from here);
		// resolvable-but-private hosts are blocked below.
		return true
	}
	for _, ip := range ips {
		if util.IsPrivateIP(ip) {
			return false
		}
	}
	return true
}

// verifyFrameSignature checks an optional Schnorr signature a signing
// proxy in front of the upstream feed may attach to a frame, over
// (primaryId, timestamp, userId). Grounded on relay.go's
// validateEventSignature. Frames without a signature are accepted as-is —
// this is defense in depth for deployments that opt into a signing proxy,
// not a hard requirement of the wire format.
func verifyFrameSignature(primaryID, timestamp, userID, sigHex, pubkeyHex string) bool {
	if sigHex == "" {
		return true
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return false
	}
	pubkeyBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	digest := frameDigest(primaryID, timestamp, userID)
	return sig.Verify(digest[:], pubkey)
}

// frameDigest is the sha256 digest signed over a frame's stable identity
// tuple, matching the teacher's event-id hashing convention of committing
// to the fields that make an event unique rather than its full body.
func frameDigest(primaryID, timestamp, userID string) [32]byte {
	return sha256.Sum256([]byte(primaryID + "|" + timestamp + "|" + userID))
}

// EventTypeValid reports whether t is one of the seven recognised event
// types, used to reject unrecognised frame shapes as ParseError.
func EventTypeValid(t model.EventType) bool {
	_, ok := model.AllEventTypes()[t]
	return ok
}
