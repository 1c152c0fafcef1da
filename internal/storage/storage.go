// Package storage is the record storage engine: it maps (kind, owner) pairs
// to shard files and runs locked backward scans, active-flag updates and
// appends against them.
//
// Shard files hold fixed-width records back to back, no separators. Records
// are never removed or rewritten; the only in-place mutation is flipping a
// record's leading active-flag byte. All offset arithmetic runs from the end
// of the file so the newest records are visited first.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/record"
)

// Unlimited disables the match limit of ScanMatches.
const Unlimited = -1

// ErrNotFound reports a scan that matched nothing.
var ErrNotFound = errors.New("no matching record")

// Engine owns a shard file directory. All methods are safe for concurrent
// use; operations on the same shard file serialize on that file's mutex,
// which is held for an entire scan or mutation, never per record. Releasing
// it between records would let a concurrent append move end-of-file under
// the backward offset arithmetic.
type Engine struct {
	root  string
	codec *record.Codec
	locks *lockRegistry
	log   *zap.Logger
}

func NewEngine(root string, codec *record.Codec, log *zap.Logger) *Engine {
	return &Engine{
		root:  root,
		codec: codec,
		locks: newLockRegistry(),
		log:   log,
	}
}

// Init creates every shard file of every kind that does not exist yet.
// Shard files are created exactly once and only ever grow.
func (e *Engine) Init() error {
	if info, err := os.Stat(e.root); err != nil || !info.IsDir() {
		return errors.Errorf("storage root %q is not a directory", e.root)
	}

	for _, kind := range record.Kinds {
		for shard := 0; shard < e.codec.Layout().FileCount(kind); shard++ {
			path := filepath.Join(e.root, shardFileName(kind, shard))
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return errors.Wrapf(err, "create shard file %s", path)
			}
			f.Close()
		}
	}

	e.log.Info("storage initialized", zap.String("root", e.root))
	return nil
}

// ShardPath returns the shard file owning the given username's records of a
// kind. The mapping hashes the username by summing its bytes modulo the
// kind's file count, so it is stable across restarts for a fixed config.
func (e *Engine) ShardPath(kind record.Kind, username string) string {
	sum := 0
	for i := 0; i < len(username); i++ {
		sum += int(username[i])
	}
	shard := sum % e.codec.Layout().FileCount(kind)

	return filepath.Join(e.root, shardFileName(kind, shard))
}

func shardFileName(kind record.Kind, shard int) string {
	return fmt.Sprintf("%s_%d.txt", kind, shard)
}

// ScanFirst walks the shard file backward (newest records first) and returns
// the byte offset from end-of-file of the first record matching the
// criteria, or ErrNotFound.
func (e *Engine) ScanFirst(path string, kind record.Kind, criteria record.Criteria) (int64, error) {
	mu := e.locks.forPath(path)
	mu.Lock()
	defer mu.Unlock()

	f, size, err := e.openForScan(path, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var found int64
	err = e.walkBackward(f, size, kind, criteria, func(offsetFromEnd int64, _ string) (bool, error) {
		found = offsetFromEnd
		return false, nil // stop at the first hit
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, errors.Wrap(ErrNotFound, path)
	}
	return found, nil
}

// ScanMatches collects matching records in newest-first order, stopping once
// limit matches are found. Unlimited collects them all; a limit of zero
// returns empty without touching the file.
func (e *Engine) ScanMatches(path string, kind record.Kind, criteria record.Criteria, limit int) ([]string, error) {
	if limit == 0 {
		return nil, nil
	}

	mu := e.locks.forPath(path)
	mu.Lock()
	defer mu.Unlock()

	f, size, err := e.openForScan(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []string
	err = e.walkBackward(f, size, kind, criteria, func(_ int64, serialized string) (bool, error) {
		matches = append(matches, serialized)
		return limit == Unlimited || len(matches) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// SetActiveFlag overwrites the active-flag byte of every matching record,
// leaving all other bytes untouched, and returns how many records were
// written. Records already carrying the requested flag value are excluded by
// the caller's criteria, not here.
func (e *Engine) SetActiveFlag(active bool, path string, kind record.Kind, criteria record.Criteria) (int, error) {
	mu := e.locks.forPath(path)
	mu.Lock()
	defer mu.Unlock()

	f, size, err := e.openForScan(path, os.O_RDWR)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	flag := []byte{'0'}
	if active {
		flag[0] = '1'
	}

	modified := 0
	err = e.walkBackward(f, size, kind, criteria, func(offsetFromEnd int64, _ string) (bool, error) {
		if _, err := f.WriteAt(flag, size-offsetFromEnd); err != nil {
			return false, errors.Wrapf(err, "overwrite active flag in %s", path)
		}
		modified++
		return true, nil // every match is updated, not just the first
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// Append writes one serialized record to the end of the shard file. It takes
// the same per-file mutex as the scans, so a concurrent scan never observes
// a partially written record.
func (e *Engine) Append(path, serialized string) error {
	mu := e.locks.forPath(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "open shard file %s for append", path)
	}
	defer f.Close()

	if _, err := f.WriteString(serialized); err != nil {
		return errors.Wrapf(err, "append to shard file %s", path)
	}
	return nil
}

func (e *Engine) openForScan(path string, flag int) (*os.File, int64, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open shard file %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrapf(err, "stat shard file %s", path)
	}

	return f, info.Size(), nil
}

// walkBackward visits records from end-of-file to start-of-file in fixed
// steps of the kind's record size, invoking visit with the offset from end
// for each record matching the criteria. Visit returns false to stop early.
func (e *Engine) walkBackward(f *os.File, size int64, kind record.Kind,
	criteria record.Criteria, visit func(offsetFromEnd int64, serialized string) (bool, error)) error {

	recordSize := int64(e.codec.Size(kind))
	if recordSize <= 0 {
		return errors.Errorf("record size of %s is not configured", kind)
	}

	buf := make([]byte, recordSize)
	for offset := recordSize; offset <= size; offset += recordSize {
		if _, err := f.ReadAt(buf, size-offset); err != nil && err != io.EOF {
			return errors.Wrapf(err, "read record at %d from end", offset)
		}

		matched, err := e.codec.Matches(string(buf), kind, criteria)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}

		keepGoing, err := visit(offset, string(buf))
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}
