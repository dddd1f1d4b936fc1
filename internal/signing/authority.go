// Package signing owns the RSA key pair used to sign challenge attestations.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	PrivateKeyFile = "private_key.pem"
	PublicKeyFile  = "public_key.pem"

	DefaultKeyBits = 2048
)

var (
	ErrKeyMismatch      = errors.New("public key does not match private key")
	ErrIncompleteKeys   = errors.New("only one half of the key pair exists")
	ErrInvalidToken     = errors.New("invalid attestation token")
	errUnexpectedMethod = errors.New("unexpected signing method")
)

// Claims is the payload of an attestation token.
type Claims struct {
	Score         float64 `json:"score"`
	InteractionID string  `json:"interaction_id"`
	jwt.RegisteredClaims
}

// Authority signs attestation tokens. The key pair is fixed after
// construction and safe for concurrent use.
type Authority struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	publicPEM string
	ttl       time.Duration
	now       func() time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithTokenTTL sets an expiry on issued tokens. Zero issues tokens without exp.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *Authority) { a.ttl = ttl }
}

// LoadOrGenerate loads the key pair from dir, generating and persisting a new
// one when neither file exists.
func LoadOrGenerate(dir string, bits int, logger *zap.Logger, opts ...Option) (*Authority, error) {
	privPath := filepath.Join(dir, PrivateKeyFile)
	pubPath := filepath.Join(dir, PublicKeyFile)

	privExists, err := exists(privPath)
	if err != nil {
		return nil, err
	}
	pubExists, err := exists(pubPath)
	if err != nil {
		return nil, err
	}

	switch {
	case !privExists && !pubExists:
		logger.Info("No signing keys found, generating a new key pair",
			zap.String("dir", dir), zap.Int("bits", bits))
		if err := generate(dir, bits); err != nil {
			return nil, err
		}
	case privExists != pubExists:
		return nil, fmt.Errorf("%w in %s", ErrIncompleteKeys, dir)
	}

	a, err := load(privPath, pubPath)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(a)
	}

	logger.Info("Signing keys loaded", zap.String("dir", dir), zap.Int("bits", a.private.N.BitLen()))
	return a, nil
}

// Sign issues a token carrying score and interactionID.
func (a *Authority) Sign(score float64, interactionID string) (string, error) {
	now := a.now()
	claims := Claims{
		Score:         score,
		InteractionID: interactionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token and checks its signature with the public key.
func (a *Authority) Verify(token string) (*Claims, error) {
	return VerifyWithKey(token, a.public)
}

// VerifyWithKey checks a token against any RS256 public key, such as one
// fetched from the public key endpoint.
func VerifyWithKey(token string, key *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errUnexpectedMethod
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PublicKeyPEM returns the public key as a PEM SubjectPublicKeyInfo block.
func (a *Authority) PublicKeyPEM() string {
	return a.publicPEM
}

func generate(dir string, bits int) error {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to encode public key: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(dir, PrivateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), pubPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

func load(privPath, pubPath string) (*Authority, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, ErrKeyMismatch
	}

	return &Authority{
		private:   priv,
		public:    pub,
		publicPEM: string(pubPEM),
		now:       time.Now,
	}, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
