package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const base62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SaltLength is the length of the name verification salt.
const SaltLength = 16

// GenerateSalt returns a random base62 string shared with the master server
// for name verification.
func GenerateSalt() (string, error) {
	out := make([]byte, SaltLength)
	max := big.NewInt(int64(len(base62)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
		out[i] = base62[n.Int64()]
	}
	return string(out), nil
}

// NameToken is the key a client must present: hex(md5(salt + name)).
func NameToken(salt, name string) string {
	sum := md5.Sum([]byte(salt + name))
	return hex.EncodeToString(sum[:])
}

// VerifyName checks a client's handshake key against the salt.
func VerifyName(salt, name, key string) bool {
	return subtle.ConstantTimeCompare([]byte(NameToken(salt, name)), []byte(key)) == 1
}

var ErrBadCiphertext = errors.New("invalid ciphertext")

// ServerKey is the AES-256-CBC key and IV used to store user passwords.
type ServerKey struct {
	Key [32]byte
	IV  [16]byte
}

// LoadOrCreateServerKey reads the key file, generating one if it is missing.
func LoadOrCreateServerKey(path string) (*ServerKey, error) {
	k := &ServerKey{}
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != len(k.Key)+len(k.IV) {
			return nil, fmt.Errorf("server key %s has length %d, expected %d", path, len(data), len(k.Key)+len(k.IV))
		}
		copy(k.Key[:], data[:32])
		copy(k.IV[:], data[32:])
		return k, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read server key: %w", err)
	}

	if _, err := rand.Read(k.Key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate server key: %w", err)
	}
	if _, err := rand.Read(k.IV[:]); err != nil {
		return nil, fmt.Errorf("failed to generate server key: %w", err)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, append(k.Key[:], k.IV[:]...), 0600); err != nil {
		return nil, fmt.Errorf("failed to write server key: %w", err)
	}
	log.Warn().Str("path", path).Msg("server key generated; do NOT lose this file or stored passwords become unreadable")
	return k, nil
}

// Encrypt returns the hex encoded AES-256-CBC ciphertext of plain.
func (k *ServerKey) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(k.Key[:])
	if err != nil {
		return "", err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	buf := append([]byte(plain), bytes.Repeat([]byte{byte(pad)}, pad)...)
	cipher.NewCBCEncrypter(block, k.IV[:]).CryptBlocks(buf, buf)
	return hex.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt.
func (k *ServerKey) Decrypt(encoded string) (string, error) {
	buf, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCiphertext, err)
	}
	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return "", ErrBadCiphertext
	}
	block, err := aes.NewCipher(k.Key[:])
	if err != nil {
		return "", err
	}
	cipher.NewCBCDecrypter(block, k.IV[:]).CryptBlocks(buf, buf)
	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(buf) {
		return "", ErrBadCiphertext
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return "", ErrBadCiphertext
		}
	}
	return string(buf[:len(buf)-pad]), nil
}

// GenerateSelfSignedCert creates a self-signed TLS certificate and key for
// the REST API when no external certificate is provided.
func GenerateSelfSignedCert(certFile, keyFile string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"CubeForge"},
			CommonName:   "cubeforge-local",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template,
		&privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	if err := EnsureDir(filepath.Dir(certFile)); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}
	certOut, err := os.Create(certFile)
	if err != nil {
		return fmt.Errorf("failed to create cert file: %w", err)
	}
	defer certOut.Close()

	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return fmt.Errorf("failed to encode certificate: %w", err)
	}

	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer keyOut.Close()

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}); err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}

	log.Info().
		Str("cert", certFile).
		Str("key", keyFile).
		Msg("self-signed TLS certificate generated")

	return nil
}
