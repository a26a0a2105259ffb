// Package file keeps the credential in a small JSON file, optionally sealed
// with a passphrase.
package file

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lalith-99/echoclient/internal/repository"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters recommended for interactive use.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	keySize   = 32
	saltSize  = 16
	nonceSize = 24
)

var ErrWrongPassphrase = errors.New("credential file cannot be opened with this passphrase")

// document is the on-disk layout. Without a passphrase the credential is
// stored as is under the fixed key; with one it is sealed and Salt is set.
type document struct {
	Token  string `json:"authToken"`
	Sealed bool   `json:"sealed,omitempty"`
	Salt   string `json:"salt,omitempty"`
}

type CredentialStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

var _ repository.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore stores the credential at path. An empty passphrase
// stores it in the clear.
func NewCredentialStore(path, passphrase string) *CredentialStore {
	return &CredentialStore{path: path, passphrase: []byte(passphrase)}
}

func (s *CredentialStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", repository.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode credential file: %w", err)
	}
	if doc.Token == "" {
		return "", repository.ErrNoCredential
	}
	if !doc.Sealed {
		return doc.Token, nil
	}
	return s.open(doc)
}

func (s *CredentialStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Token: token}
	if len(s.passphrase) > 0 {
		sealed, err := s.seal(token)
		if err != nil {
			return err
		}
		doc = sealed
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	// Write then rename so a crash never leaves half a file behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

func (s *CredentialStore) Close() error { return nil }

func (s *CredentialStore) deriveKey(salt []byte) (*[keySize]byte, error) {
	k, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], k)
	return &key, nil
}

func (s *CredentialStore) seal(token string) (document, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return document{}, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return document{}, fmt.Errorf("generate nonce: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return document{}, err
	}

	// Output is nonce || box.
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, key)
	return document{
		Token:  base64.StdEncoding.EncodeToString(box),
		Sealed: true,
		Salt:   base64.StdEncoding.EncodeToString(salt),
	}, nil
}

func (s *CredentialStore) open(doc document) (string, error) {
	if len(s.passphrase) == 0 {
		return "", ErrWrongPassphrase
	}
	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	box, err := base64.StdEncoding.DecodeString(doc.Token)
	if err != nil {
		return "", fmt.Errorf("decode sealed credential: %w", err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("sealed credential too short")
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])

	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrWrongPassphrase
	}
	return string(plain), nil
}
