// Package wallet manages the agent's dedicated signing key: spec section
// 4.I's "agent wallet" lifecycle. The key itself is opaque 64 bytes of
// secret material (the on-chain signing scheme is part of the out-of-scope
// chain adapter); this package only owns its storage, permission posture,
// and first-run creation, grounded on the deposit book's temp-file+rename
// JSON persistence idiom (internal/depositbook).
package wallet

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// KeySize is the fixed length of the agent wallet's secret key material.
const KeySize = 64

// fileName is the default wallet file name under the agent's data directory.
const fileName = "agent-wallet.json"

// Wallet holds the agent's 64-byte secret key, loaded or created on first
// start.
type Wallet struct {
	Secret [KeySize]byte
}

// DefaultPath returns "<dir>/agent-wallet.json".
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, fileName)
}

// LoadOrCreate loads the wallet at path, creating a fresh one with 0600
// permissions (and the parent directory with 0700) if it does not exist.
// This is the path used when no explicit override is supplied, so no
// additional permission check beyond the mode this package itself sets is
// needed.
func LoadOrCreate(path string, log *logrus.Logger) (*Wallet, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	const op = "wallet.LoadOrCreate"

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return decode(data)
	}
	if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}

	w, err := generate()
	if err != nil {
		return nil, err
	}
	if err := save(path, w); err != nil {
		return nil, err
	}
	log.WithField("path", path).Info("created new agent wallet")
	return w, nil
}

// LoadOverride loads the wallet from an explicit override path. Unlike
// LoadOrCreate it never creates a new key, and it enforces spec section
// 4.I's permission check: the file must be exactly KeySize bytes of secret
// material, and group/other-readable permissions are logged as a warning
// rather than silently accepted.
func LoadOverride(path string, log *logrus.Logger) (*Wallet, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	const op = "wallet.LoadOverride"

	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			log.WithField("path", path).Warnf("wallet override file is group/other readable (mode %o); tighten to 0600", mode)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	return decode(data)
}

func generate() (*Wallet, error) {
	var w Wallet
	if _, err := rand.Read(w.Secret[:]); err != nil {
		return nil, errs.Wrap(errs.Other, "wallet.generate", err)
	}
	return &w, nil
}

// fileForm is the on-disk representation: a 64-byte secret key as a
// decimal array, per spec section 6's persisted-state layout. Secret is a
// slice (not a [KeySize]int array) so decode can reject a short or long
// array instead of having encoding/json silently zero-pad or truncate it.
type fileForm struct {
	Secret []int `json:"secret"`
}

func decode(data []byte) (*Wallet, error) {
	const op = "wallet.decode"
	var f fileForm
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.Wrap(errs.Integrity, op, err)
	}
	if len(f.Secret) != KeySize {
		return nil, errs.New(errs.Integrity, op, "secret must be exactly 64 bytes")
	}
	var w Wallet
	for i, b := range f.Secret {
		if b < 0 || b > 255 {
			return nil, errs.New(errs.Integrity, op, "secret byte out of range")
		}
		w.Secret[i] = byte(b)
	}
	return &w, nil
}

func save(path string, w *Wallet) error {
	const op = "wallet.save"
	f := fileForm{Secret: make([]int, KeySize)}
	for i, b := range w.Secret {
		f.Secret[i] = int(b)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	return nil
}
