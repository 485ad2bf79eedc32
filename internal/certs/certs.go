// Package certs creates and loads the self-signed key pair the webhook
// listener presents. The certificate is bound to the service's public
// address so the platform can pin it.
package certs

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"polybot/internal/observability"
)

var (
	ErrGenerationFailed = errors.New("certificate generation failed")
	ErrWriteFailed      = errors.New("certificate write failed")
)

const (
	defaultValidity = 365 * 24 * time.Hour
	rsaBits         = 2048
)

// Material is one generation of key material.
type Material struct {
	CertPEM     []byte
	KeyPEM      []byte
	Address     netip.Addr
	GeneratedAt time.Time
}

type Manager struct {
	validity time.Duration
	rand     io.Reader
	now      func() time.Time
	log      *observability.Logger
}

func NewManager() *Manager {
	return &Manager{
		validity: defaultValidity,
		rand:     rand.Reader,
		now:      time.Now,
		log:      observability.Component("certs"),
	}
}

// Generate creates a fresh self-signed pair for addr and replaces the files at
// keyPath and certPath along with the bundle at BundlePath(certPath). All files
// are staged next to their targets and only renamed into place once every one
// is fully written, so a failure leaves the previous pair untouched.
func (m *Manager) Generate(addr netip.Addr, keyPath, certPath string) (Material, error) {
	if !addr.IsValid() {
		return Material{}, fmt.Errorf("%w: invalid address", ErrGenerationFailed)
	}
	addr = addr.Unmap()

	mat, err := m.create(addr)
	if err != nil {
		return Material{}, err
	}
	if err := replacePair(keyPath, mat.KeyPEM, certPath, mat.CertPEM); err != nil {
		return Material{}, err
	}
	m.log.Info(context.Background(), "certificate generated", "address", addr.String(), "cert", certPath)
	return mat, nil
}

func (m *Manager) create(addr netip.Addr) (Material, error) {
	key, err := rsa.GenerateKey(m.rand, rsaBits)
	if err != nil {
		return Material{}, fmt.Errorf("%w: generate key: %w", ErrGenerationFailed, err)
	}
	serial, err := rand.Int(m.rand, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return Material{}, fmt.Errorf("%w: serial: %w", ErrGenerationFailed, err)
	}

	now := m.now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: addr.String(), Organization: []string{"polybot"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(m.validity),
		IPAddresses:           []net.IP{addr.AsSlice()},
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(m.rand, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return Material{}, fmt.Errorf("%w: create certificate: %w", ErrGenerationFailed, err)
	}

	return Material{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		Address:     addr,
		GeneratedAt: now,
	}, nil
}

// BundlePath is where the combined key and certificate of the pair next to
// certPath live. It is replaced with a single rename, so it never holds a key
// from one generation and a certificate from another.
func BundlePath(certPath string) string {
	return certPath + ".pair"
}

// Load reads the current pair from disk for a TLS listener. The bundle is
// preferred; the separate files are used only when no bundle exists, such as
// for a pair provisioned by hand.
func Load(keyPath, certPath string) (tls.Certificate, error) {
	bundle, err := os.ReadFile(BundlePath(certPath))
	switch {
	case err == nil:
		cert, err := tls.X509KeyPair(bundle, bundle)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("load key pair %s: %w", BundlePath(certPath), err)
		}
		return cert, nil
	case !errors.Is(err, fs.ErrNotExist):
		return tls.Certificate{}, fmt.Errorf("read key pair: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return cert, nil
}

// BoundAddress returns the IP address a PEM certificate was issued for.
func BoundAddress(certPEM []byte) (netip.Addr, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return netip.Addr{}, errors.New("no certificate block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse certificate: %w", err)
	}
	return leafAddress(cert)
}

// ServedAddress returns the address of the pair Load would hand to the
// listener. It fails when no usable pair is on disk.
func ServedAddress(keyPath, certPath string) (netip.Addr, error) {
	pair, err := Load(keyPath, certPath)
	if err != nil {
		return netip.Addr{}, err
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse certificate: %w", err)
	}
	return leafAddress(leaf)
}

func leafAddress(cert *x509.Certificate) (netip.Addr, error) {
	if len(cert.IPAddresses) == 0 {
		return netip.Addr{}, errors.New("certificate has no IP SAN")
	}
	addr, ok := netip.AddrFromSlice(cert.IPAddresses[0])
	if !ok {
		return netip.Addr{}, errors.New("malformed IP SAN")
	}
	return addr.Unmap(), nil
}

type pairFile struct {
	target string
	data   []byte
	perm   os.FileMode

	tmp     string
	prev    []byte
	hadPrev bool
}

// replacePair stages the bundle, the key and the certificate, then renames
// them into place in that order. The bundle rename is the commit point for
// readers. If a later rename fails, every file already renamed is put back to
// its previous content.
func replacePair(keyPath string, keyPEM []byte, certPath string, certPEM []byte) error {
	bundle := make([]byte, 0, len(keyPEM)+len(certPEM))
	bundle = append(append(bundle, keyPEM...), certPEM...)
	files := []*pairFile{
		{target: BundlePath(certPath), data: bundle, perm: 0o600},
		{target: keyPath, data: keyPEM, perm: 0o600},
		{target: certPath, data: certPEM, perm: 0o644},
	}

	for i, f := range files {
		tmp, err := stage(f.target, f.data, f.perm)
		if err != nil {
			removeStaged(files[:i])
			return err
		}
		f.tmp = tmp
	}

	for i, f := range files {
		prev, err := os.ReadFile(f.target)
		f.prev, f.hadPrev = prev, err == nil
		if err := os.Rename(f.tmp, f.target); err != nil {
			removeStaged(files[i:])
			rollback(files[:i])
			return fmt.Errorf("%w: rename %s: %w", ErrWriteFailed, f.target, err)
		}
	}
	return nil
}

func removeStaged(files []*pairFile) {
	for _, f := range files {
		_ = os.Remove(f.tmp)
	}
}

// rollback restores renamed files, newest first. Best effort.
func rollback(renamed []*pairFile) {
	for i := len(renamed) - 1; i >= 0; i-- {
		f := renamed[i]
		if !f.hadPrev {
			_ = os.Remove(f.target)
			continue
		}
		if tmp, err := stage(f.target, f.prev, f.perm); err == nil {
			if err := os.Rename(tmp, f.target); err != nil {
				_ = os.Remove(tmp)
			}
		}
	}
}

// stage writes data to a temporary file in the target's directory and
// returns its path.
func stage(target string, data []byte, perm os.FileMode) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %w", ErrWriteFailed, dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp for %s: %w", ErrWriteFailed, target, err)
	}
	tmp := f.Name()
	fail := func(step string, err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %s %s: %w", ErrWriteFailed, step, target, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: close %s: %w", ErrWriteFailed, target, err)
	}
	return tmp, nil
}
