// Package prober performs single TLS handshakes against monitored hostnames
// and extracts leaf-certificate metadata. It acts purely as a client: no
// custom trust store, no chain validation, no revocation checks. The only
// thing verified is that a certificate was presented and what its stated
// validity window is.
package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// DefaultPort is used when a domain carries no explicit port.
const DefaultPort = 443

// Kind classifies a probe failure. Every network-level failure mode maps to
// exactly one kind; callers convert kinds into failure records rather than
// branching on them.
type Kind string

const (
	KindDNSResolutionFailed    Kind = "dns_resolution_failed"
	KindConnectionRefused      Kind = "connection_refused"
	KindConnectionTimeout      Kind = "connection_timeout"
	KindTLSHandshakeFailed     Kind = "tls_handshake_failed"
	KindNoCertificatePresented Kind = "no_certificate_presented"

	// KindConnectionFailed covers dial-stage failures that are neither DNS,
	// refused nor timeout, e.g. a reset or an unreachable network. The
	// handshake never started, so it must not be reported as a TLS failure.
	KindConnectionFailed Kind = "connection_failed"
)

// ProbeError is a classified probe failure. It wraps the underlying network
// error so callers can still errors.Is/As into it when needed.
type ProbeError struct {
	Kind Kind
	Host string
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("probe %s: %s", e.Host, e.Message())
	}
	return fmt.Sprintf("probe %s: %s: %v", e.Host, e.Message(), e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Message is the human-readable form surfaced verbatim in dashboards.
func (e *ProbeError) Message() string {
	switch e.Kind {
	case KindDNSResolutionFailed:
		return "DNS resolution failed"
	case KindConnectionRefused:
		return "connection refused"
	case KindConnectionTimeout:
		return "connection timeout"
	case KindTLSHandshakeFailed:
		return "TLS handshake failed"
	case KindNoCertificatePresented:
		return "no certificate presented"
	case KindConnectionFailed:
		return "connection failed"
	default:
		return "probe failed"
	}
}

// Result holds the fields extracted from the peer's leaf certificate.
type Result struct {
	Issuer    string
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time

	// IsValid is the pure time-window check: probe time inside
	// [NotBefore, NotAfter]. An expired certificate is a successful probe
	// with IsValid=false, not a ProbeError.
	IsValid bool
}

// Prober dials monitored hosts and reads their leaf certificates. It holds
// no storage and writes nothing; every call returns either a Result or a
// *ProbeError.
type Prober struct {
	// Timeout bounds the whole probe: dial plus handshake. It must be
	// finite; a hung remote host may not block a sweep worker forever.
	Timeout time.Duration

	// Now is the clock used for the validity-window check. Injectable so
	// tests can pin it; defaults to time.Now.
	Now func() time.Time
}

// New returns a Prober with the given per-probe timeout.
func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{Timeout: timeout, Now: time.Now}
}

// Probe performs one TCP connect and TLS handshake against hostname:port and
// returns the extracted certificate metadata. Any failure comes back as a
// *ProbeError; Probe never panics and never blocks past its timeout.
func (p *Prober) Probe(ctx context.Context, hostname string, port int) (Result, error) {
	if port == 0 {
		port = DefaultPort
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	address := net.JoinHostPort(hostname, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: p.Timeout, KeepAlive: -1}

	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Result{}, &ProbeError{Kind: classifyDialError(err), Host: hostname, Err: err}
	}
	defer rawConn.Close()

	// Socket deadline backs up the context in case the handshake stalls
	// mid-read. Wall clock on purpose: the injected clock only feeds the
	// validity-window check.
	_ = rawConn.SetDeadline(time.Now().Add(p.Timeout))

	conn := tls.Client(rawConn, &tls.Config{
		// Verification is intentionally skipped: the handshake exists only
		// to obtain the leaf certificate, and classification must not change
		// for time-valid but chain-invalid certificates.
		InsecureSkipVerify: true,
		ServerName:         hostname,
	})

	if err := conn.HandshakeContext(ctx); err != nil {
		return Result{}, &ProbeError{Kind: classifyHandshakeError(err), Host: hostname, Err: err}
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return Result{}, &ProbeError{Kind: KindNoCertificatePresented, Host: hostname}
	}

	cert := state.PeerCertificates[0]
	now := p.now()

	return Result{
		Issuer:    commonNameOrOrg(cert.Issuer),
		Subject:   commonNameOrOrg(cert.Subject),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		IsValid:   !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
	}, nil
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// commonNameOrOrg prefers the CN and falls back to the first organization
// name, matching what most dashboards expect for issuers like "R3".
func commonNameOrOrg(name pkix.Name) string {
	if name.CommonName != "" {
		return name.CommonName
	}
	if len(name.Organization) > 0 {
		return name.Organization[0]
	}
	return ""
}

func classifyDialError(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNSResolutionFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	if isTimeout(err) {
		return KindConnectionTimeout
	}
	// Fallback on the error text for platforms that wrap errno differently.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return KindDNSResolutionFailed
	case strings.Contains(msg, "connection refused"):
		return KindConnectionRefused
	case strings.Contains(msg, "i/o timeout"):
		return KindConnectionTimeout
	default:
		return KindConnectionFailed
	}
}

func classifyHandshakeError(err error) Kind {
	if isTimeout(err) {
		return KindConnectionTimeout
	}
	return KindTLSHandshakeFailed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
