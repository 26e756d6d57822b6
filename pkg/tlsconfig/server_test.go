package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedCert(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "levin-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatalf("encode key: %v", err)
	}

	return certPath, keyPath
}

func TestBuildServerConfigAdvertisesALPN(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg, err := BuildServerConfig(ServerOptions{CertFile: certPath, KeyFile: keyPath})
	if err != nil {
		t.Fatalf("BuildServerConfig: %v", err)
	}
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" || cfg.NextProtos[1] != "http/1.1" {
		t.Fatalf("NextProtos = %v, want [h2 http/1.1]", cfg.NextProtos)
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		t.Fatalf("MinVersion = %x, want at least TLS 1.2", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("got %d certificates, want 1", len(cfg.Certificates))
	}
}

func TestBuildServerConfigMissingFilesErrors(t *testing.T) {
	if _, err := BuildServerConfig(ServerOptions{CertFile: "/no/such/cert", KeyFile: "/no/such/key"}); err == nil {
		t.Fatal("expected an error for missing cert/key files")
	}
}

func TestGetVersionNameAndDeprecation(t *testing.T) {
	if GetVersionName(VersionTLS13) != "TLS 1.3" {
		t.Fatalf("GetVersionName(TLS13) = %q", GetVersionName(VersionTLS13))
	}
	if !IsVersionDeprecated(VersionTLS10) {
		t.Fatal("expected TLS 1.0 to be deprecated")
	}
	if IsVersionDeprecated(VersionTLS12) {
		t.Fatal("did not expect TLS 1.2 to be deprecated")
	}
}

func TestBuildServerConfigEnablesMTLS(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg, err := BuildServerConfig(ServerOptions{CertFile: certPath, KeyFile: keyPath, ClientCAFile: certPath})
	if err != nil {
		t.Fatalf("BuildServerConfig: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("ClientAuth = %v, want RequireAndVerifyClientCert", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Fatal("expected ClientCAs pool to be set")
	}
}
