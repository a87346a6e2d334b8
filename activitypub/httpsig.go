package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

var (
	ErrMissingSignature = errors.New("missing http signature")
	ErrBadSignature     = errors.New("http signature verification failed")
	ErrDigestMismatch   = errors.New("body digest mismatch")
)

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// Signed requests are accepted up to maxSignatureAge after their Date and
// up to maxClockSkew before it.
const (
	maxSignatureAge = 12 * time.Hour
	maxClockSkew    = time.Hour
)

// SignRequest signs an outgoing request with the actor's private key.
// keyId format: "https://example.com/users/alice#main-key". A Date header
// is added when missing and the Digest header is computed from body.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" && req.URL != nil {
		req.Header.Set("Host", req.URL.Host)
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// SignatureKeyID returns the keyId an incoming request claims to be signed with.
func SignatureKeyID(req *http.Request) (string, error) {
	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingSignature, err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Returns the actor URI the key belongs to.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingSignature, err)
	}

	if err := checkCoverage(req); err != nil {
		return "", err
	}
	if err := checkDate(req.Header.Get("Date"), time.Now()); err != nil {
		return "", err
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return KeyOwner(verifier.KeyId()), nil
}

// checkCoverage requires the signature to cover the request line, host and
// date, plus the digest on POST so the body is bound to it.
func checkCoverage(req *http.Request) error {
	covered := make(map[string]bool)
	for _, h := range coveredHeaders(req) {
		covered[strings.ToLower(h)] = true
	}

	required := signedHeaders[:3]
	if req.Method == http.MethodPost {
		required = signedHeaders
	}
	for _, h := range required {
		if !covered[h] {
			return fmt.Errorf("%w: %s is not signed", ErrBadSignature, h)
		}
	}
	return nil
}

// coveredHeaders reads the headers="..." parameter of the signature.
// An absent parameter means only date is signed.
func coveredHeaders(req *http.Request) []string {
	value := req.Header.Get("Signature")
	if value == "" {
		value, _ = strings.CutPrefix(req.Header.Get("Authorization"), "Signature ")
	}
	for _, param := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && key == "headers" {
			return strings.Fields(strings.Trim(val, `"`))
		}
	}
	return []string{"date"}
}

func checkDate(header string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing date", ErrBadSignature)
	}
	date, err := http.ParseTime(header)
	if err != nil {
		return fmt.Errorf("%w: bad date %q", ErrBadSignature, header)
	}
	if now.Sub(date) > maxSignatureAge {
		return fmt.Errorf("%w: signed at %s, too old", ErrBadSignature, header)
	}
	if date.Sub(now) > maxClockSkew {
		return fmt.Errorf("%w: signed at %s, in the future", ErrBadSignature, header)
	}
	return nil
}

// restoreHost puts the Host back into the headers; net/http moves it to
// req.Host on the server side.
func restoreHost(req *http.Request) {
	if req.Header.Get("Host") == "" && req.Host != "" {
		req.Header.Set("Host", req.Host)
	}
}

// KeyOwner strips the fragment from a keyId:
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func KeyOwner(keyId string) string {
	owner, _, _ := strings.Cut(keyId, "#")
	return owner
}

// VerifyDigest checks a "SHA-256=<base64>" Digest header against the body.
func VerifyDigest(header string, body []byte) error {
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		sum := sha256.Sum256(body)
		expected := base64.StdEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(expected), []byte(value)) == 1 {
			return nil
		}
		return ErrDigestMismatch
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrDigestMismatch)
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
