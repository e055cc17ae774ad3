// Package depositbook is the crash-safe persistent record of every deposit
// this agent has made: its code, its chain commitment, and whether it has
// since been withdrawn. It is the single source of truth the withdraw
// pipeline pre-marks before contacting a relayer (spec section 4.I's
// pre-mark policy), grounded on the teacher's temp-file-plus-rename JSON
// persistence idiom (see internal/merkletree's Cache, itself adapted from
// the same convention).
package depositbook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// Record is one persisted deposit.
type Record struct {
	Code        string    `json:"code"`
	Commitment  string    `json:"commitment"`
	Amount      uint64    `json:"amount"`
	TxID        string    `json:"txId"`
	Timestamp   time.Time `json:"timestamp"`
	Withdrawn   bool      `json:"withdrawn"`
	WithdrawRef *string   `json:"withdrawRef"`
}

// Book is the deposit book: a single JSON array file guarded by an
// in-process mutex (for concurrent callers within this agent) and an
// on-disk flock (for other processes sharing the same file).
type Book struct {
	path     string
	lockPath string

	mu sync.Mutex
}

// Open returns a Book backed by a deposits.json file under dir. The
// directory is created with 0700 permissions if absent; the file itself is
// not created here but written with 0600 permissions by the first Add.
func Open(dir string) (*Book, error) {
	const op = "depositbook.Open"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	return &Book{
		path:     filepath.Join(dir, "deposits.json"),
		lockPath: filepath.Join(dir, "deposits.json.lock"),
	}, nil
}

func (b *Book) withFileLock(fn func() error) error {
	fl := flock.New(b.lockPath)
	if err := fl.Lock(); err != nil {
		return errs.Wrap(errs.IoDisk, "depositbook.Book", err)
	}
	defer fl.Unlock()
	return fn()
}

func (b *Book) readAllLocked() ([]Record, error) {
	const op = "depositbook.Book.readAllLocked"
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errs.Wrap(errs.Integrity, op, err)
	}
	return records, nil
}

func (b *Book) writeAllLocked(records []Record) error {
	const op = "depositbook.Book.writeAllLocked"
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	return nil
}

// Add appends a new, not-yet-withdrawn record.
func (b *Book) Add(code, commitment, txID string, amount uint64, timestamp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withFileLock(func() error {
		records, err := b.readAllLocked()
		if err != nil {
			return err
		}
		records = append(records, Record{
			Code:       code,
			Commitment: commitment,
			Amount:     amount,
			TxID:       txID,
			Timestamp:  timestamp,
		})
		return b.writeAllLocked(records)
	})
}

// FindUnwithdrawn returns the oldest record with Withdrawn == false, and,
// if amount is non-nil, whose Amount matches. It returns errs.NotFound if
// no such record exists.
func (b *Book) FindUnwithdrawn(amount *uint64) (Record, error) {
	const op = "depositbook.Book.FindUnwithdrawn"
	b.mu.Lock()
	defer b.mu.Unlock()

	var found Record
	var ok bool
	err := b.withFileLock(func() error {
		records, err := b.readAllLocked()
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.Withdrawn {
				continue
			}
			if amount != nil && r.Amount != *amount {
				continue
			}
			found = r
			ok = true
			return nil
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, errs.New(errs.NotFound, op, "no unwithdrawn deposit matches")
	}
	return found, nil
}

// MarkWithdrawn atomically flips Withdrawn to true and stores reference,
// stamping a new timestamp in place. It returns errs.NotFound if code does
// not match any record, and errs.Conflict if the matching record is
// already withdrawn.
func (b *Book) MarkWithdrawn(code, reference string, now time.Time) error {
	const op = "depositbook.Book.MarkWithdrawn"
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withFileLock(func() error {
		records, err := b.readAllLocked()
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].Code != code {
				continue
			}
			if records[i].Withdrawn {
				return errs.New(errs.Conflict, op, "deposit already withdrawn")
			}
			records[i].Withdrawn = true
			ref := reference
			records[i].WithdrawRef = &ref
			records[i].Timestamp = now
			return b.writeAllLocked(records)
		}
		return errs.New(errs.NotFound, op, "no deposit with that code")
	})
}

// UpdateWithdrawRef replaces the reference on an already-withdrawn record,
// used by the withdraw pipeline to swap the pre-mark sentinel for the real
// relayer queue ID once the submission is accepted (spec section 4.I).
func (b *Book) UpdateWithdrawRef(code, reference string) error {
	const op = "depositbook.Book.UpdateWithdrawRef"
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withFileLock(func() error {
		records, err := b.readAllLocked()
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].Code != code {
				continue
			}
			if !records[i].Withdrawn {
				return errs.New(errs.Conflict, op, "deposit is not withdrawn")
			}
			ref := reference
			records[i].WithdrawRef = &ref
			return b.writeAllLocked(records)
		}
		return errs.New(errs.NotFound, op, "no deposit with that code")
	})
}

// UnmarkWithdrawn reverses a MarkWithdrawn call, used by the withdraw
// pipeline's rollback path when network submission fails after the
// pre-mark (spec section 4.I / E3).
func (b *Book) UnmarkWithdrawn(code string) error {
	const op = "depositbook.Book.UnmarkWithdrawn"
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withFileLock(func() error {
		records, err := b.readAllLocked()
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].Code != code {
				continue
			}
			records[i].Withdrawn = false
			records[i].WithdrawRef = nil
			return b.writeAllLocked(records)
		}
		return errs.New(errs.NotFound, op, "no deposit with that code")
	})
}

// All returns every record currently stored, oldest first.
func (b *Book) All() ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var records []Record
	err := b.withFileLock(func() error {
		var err error
		records, err = b.readAllLocked()
		return err
	})
	return records, err
}
