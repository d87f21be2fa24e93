package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	errorOperationStore   = "store"
	errorSubjectDocument  = "document"
	errorCodeEncode       = "encode"
	errorCodeWrite        = "write"
	errorCodeRename       = "rename"
	errorCodeOpen         = "open"
	errorCodeLock         = "lock"
	lockFileName          = ".lock"
	corruptSuffixFormat   = "%s.corrupt-%d"
	temporaryPattern      = ".%s.tmp-*"
	documentDirectoryMode = 0o755
	documentFileMode      = 0o600
)

var documentCodec = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// SaveFunc writes one named document. It is only valid while the Documents lock is held.
type SaveFunc func(name string, value any) error

// Documents persists named JSON documents inside one directory.
// Every load and save goes through a single lock, held both in process and
// on a lock file so that other processes sharing the directory wait too.
type Documents struct {
	directory     string
	logger        *zap.Logger
	nowFn         func() time.Time
	rename        func(oldPath string, newPath string) error
	syncDirectory func(directory string) error

	mu       sync.Mutex
	fileLock *flock.Flock
	seen     map[string]os.FileInfo
}

// Option configures Documents.
type Option func(*Documents)

// WithLogger sets the logger used for load fallbacks and save failures.
func WithLogger(logger *zap.Logger) Option {
	return func(documents *Documents) {
		if logger != nil {
			documents.logger = logger
		}
	}
}

// WithClock sets the clock used to name quarantined documents.
func WithClock(now func() time.Time) Option {
	return func(documents *Documents) {
		if now != nil {
			documents.nowFn = now
		}
	}
}

// NewDocuments creates the directory when missing.
func NewDocuments(directory string, options ...Option) (*Documents, error) {
	trimmed := strings.TrimSpace(directory)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: document directory is empty", ledger.ErrInvalidServiceConfig)
	}
	if err := os.MkdirAll(trimmed, documentDirectoryMode); err != nil {
		return nil, ledger.WrapError(errorOperationStore, errorSubjectDocument, errorCodeOpen, err)
	}
	documents := &Documents{
		directory:     trimmed,
		logger:        zap.NewNop(),
		nowFn:         time.Now,
		rename:        os.Rename,
		syncDirectory: syncDirectory,
		fileLock:      flock.New(filepath.Join(trimmed, lockFileName)),
		seen:          make(map[string]os.FileInfo),
	}
	for _, option := range options {
		if option != nil {
			option(documents)
		}
	}
	return documents, nil
}

// Directory returns the directory holding the documents.
func (documents *Documents) Directory() string {
	return documents.directory
}

// Locked runs fn while holding the lock shared by all documents.
func (documents *Documents) Locked(fn func(save SaveFunc) error) error {
	documents.mu.Lock()
	defer documents.mu.Unlock()
	if err := documents.fileLock.Lock(); err != nil {
		return ledger.WrapError(errorOperationStore, errorSubjectDocument, errorCodeLock, err)
	}
	defer func() {
		if err := documents.fileLock.Unlock(); err != nil {
			documents.logger.Warn("document lock release failed", zap.Error(err))
		}
	}()
	return fn(documents.save)
}

// Save writes one document under the lock.
func (documents *Documents) Save(name string, value any) error {
	return documents.Locked(func(save SaveFunc) error {
		return save(name, value)
	})
}

// changed reports whether the named document differs on disk from the version last
// loaded or saved through documents. Must be called under the lock.
func (documents *Documents) changed(name string) bool {
	info, err := os.Stat(documents.path(name))
	previous, seen := documents.seen[name]
	if err != nil {
		return seen || !errors.Is(err, os.ErrNotExist)
	}
	return !seen || !os.SameFile(previous, info) || !previous.ModTime().Equal(info.ModTime()) || previous.Size() != info.Size()
}

// load decodes the named document. A missing or unreadable document yields fallback.
// A document that fails to decode or validate is moved aside before fallback is returned.
// Must be called under the lock.
func load[T any](documents *Documents, name string, fallback T) T {
	defer documents.remember(name)
	path := documents.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			documents.logger.Warn("document unreadable, using default", zap.String("document", name), zap.Error(err))
		}
		return fallback
	}

	var value T
	decodeErr := documentCodec.Unmarshal(data, &value)
	if decodeErr == nil {
		if validator, ok := any(value).(interface{ Validate() error }); ok {
			decodeErr = validator.Validate()
		}
	}
	if decodeErr == nil {
		return value
	}

	quarantinePath := fmt.Sprintf(corruptSuffixFormat, path, documents.nowFn().UTC().Unix())
	if err := documents.rename(path, quarantinePath); err != nil {
		documents.logger.Error("document corrupt and could not be moved aside",
			zap.String("document", name), zap.Error(decodeErr), zap.NamedError("quarantine_error", err))
		return fallback
	}
	documents.logger.Warn("document corrupt, using default",
		zap.String("document", name), zap.String("quarantine", quarantinePath), zap.Error(decodeErr))
	return fallback
}

func (documents *Documents) remember(name string) {
	info, err := os.Stat(documents.path(name))
	if err != nil {
		delete(documents.seen, name)
		return
	}
	documents.seen[name] = info
}

func (documents *Documents) save(name string, value any) error {
	data, err := documentCodec.MarshalIndent(value, "", "  ")
	if err != nil {
		return documents.saveError(name, errorCodeEncode, err)
	}
	temporary, err := os.CreateTemp(documents.directory, fmt.Sprintf(temporaryPattern, name))
	if err != nil {
		return documents.saveError(name, errorCodeWrite, err)
	}
	temporaryPath := temporary.Name()
	if err := writeAndClose(temporary, data); err != nil {
		_ = os.Remove(temporaryPath)
		return documents.saveError(name, errorCodeWrite, err)
	}
	if err := documents.rename(temporaryPath, documents.path(name)); err != nil {
		_ = os.Remove(temporaryPath)
		return documents.saveError(name, errorCodeRename, err)
	}
	documents.remember(name)
	// The document is already in place, so a failed directory sync is logged and not returned.
	if err := documents.syncDirectory(documents.directory); err != nil {
		documents.logger.Warn("document directory sync failed", zap.String("document", name), zap.Error(err))
	}
	return nil
}

func (documents *Documents) saveError(name string, code string, err error) error {
	documents.logger.Error("document save failed", zap.String("document", name), zap.String("code", code), zap.Error(err))
	return ledger.WrapError(errorOperationStore, errorSubjectDocument, code, err)
}

func (documents *Documents) path(name string) string {
	return filepath.Join(documents.directory, name)
}

func syncDirectory(directory string) error {
	handle, err := os.Open(directory)
	if err != nil {
		return err
	}
	syncErr := handle.Sync()
	closeErr := handle.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

func writeAndClose(file *os.File, data []byte) error {
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Chmod(documentFileMode); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
