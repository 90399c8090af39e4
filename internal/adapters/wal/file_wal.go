// Package wal is an append-only file log of accepted readings. A record is
// removed from replay once the ingest loop commits its id; node tree state is
// never written here.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

const (
	logName  = "readings.wal"
	metaName = "readings.meta"

	// [8 bytes id][4 bytes len][4 bytes crc32][len bytes cbor]
	recordHeaderLen = 16
)

var (
	errTorn   = errors.New("wal: torn record")
	crcTable  = crc32.MakeTable(crc32.Castagnoli)
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	modesOnce sync.Once
)

func codecs() (cbor.EncMode, cbor.DecMode) {
	modesOnce.Do(func() {
		var err error
		if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
			panic(err)
		}
		if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
			panic(err)
		}
	})
	return encMode, decMode
}

type FileWAL struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	syncEach  bool
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

type Option func(*FileWAL)

// WithSync flushes and fsyncs after every append.
func WithSync() Option {
	return func(w *FileWAL) { w.syncEach = true }
}

// NewFileWAL opens (or creates) the log in dir. A torn record at the tail,
// left by a crash mid-append, is cut off.
func NewFileWAL(dir string, opts ...Option) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, logName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &FileWAL{
		path:     path,
		metaPath: filepath.Join(dir, metaName),
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<20),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return nil
}

func (w *FileWAL) scanExisting() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		reader = bufio.NewReader(rf)
		offset int64
		lastID ports.WALEntryID
	)
	for {
		id, body, err := readRecord(reader)
		if errors.Is(err, io.EOF) || errors.Is(err, errTorn) {
			break
		}
		if err != nil {
			return fmt.Errorf("wal scan: %w", err)
		}
		offset += int64(recordHeaderLen + len(body))
		lastID = id
	}

	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

// readRecord returns io.EOF at a clean end of log and errTorn when the last
// record is incomplete or fails its checksum.
func readRecord(r *bufio.Reader) (ports.WALEntryID, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, errTorn
		}
		return 0, nil, err
	}
	id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
	length := binary.BigEndian.Uint32(hdr[8:12])
	sum := binary.BigEndian.Uint32(hdr[12:16])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, errTorn
		}
		return 0, nil, err
	}
	if crc32.Checksum(body, crcTable) != sum {
		return 0, nil, errTorn
	}
	return id, body, nil
}

func writeRecord(dst io.Writer, id ports.WALEntryID, body []byte) error {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.Checksum(body, crcTable))
	if _, err := dst.Write(hdr[:]); err != nil {
		return err
	}
	_, err := dst.Write(body)
	return err
}

func (w *FileWAL) Append(r *domain.Reading) (ports.WALEntryID, error) {
	enc, _ := codecs()
	body, err := enc.Marshal(domain.EncodeReading(r))
	if err != nil {
		return 0, fmt.Errorf("wal encode %s: %w", r.Asset, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1
	if err := writeRecord(w.writer, id, body); err != nil {
		return 0, err
	}
	if w.syncEach {
		if err := w.flushLocked(true); err != nil {
			return 0, err
		}
	}

	w.nextID = id
	w.sizeBytes += int64(recordHeaderLen + len(body))
	return id, nil
}

// Iterate calls fn for every record with id >= from, in append order.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, r *domain.Reading) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, dec := codecs()
	reader := bufio.NewReader(f)
	for {
		id, body, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt WAL: %w", err)
		}
		if id < from {
			continue
		}

		var wire domain.WireReading
		if err := dec.Unmarshal(body, &wire); err != nil {
			return fmt.Errorf("corrupt WAL entry %d: %w", id, err)
		}
		r, err := domain.DecodeReading(wire)
		if err != nil {
			return fmt.Errorf("corrupt WAL entry %d: %w", id, err)
		}
		if err := fn(id, r); err != nil {
			return err
		}
	}
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto <= w.committed {
		return nil
	}
	w.committed = upto
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log without the committed records.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(false); err != nil {
		return err
	}

	src, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	out := bufio.NewWriter(tmp)

	var (
		reader = bufio.NewReader(src)
		size   int64
	)
	for {
		id, body, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("wal truncate: %w", err)
		}
		if id <= w.committed {
			continue
		}
		if err := writeRecord(out, id, body); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		size += int64(recordHeaderLen + len(body))
	}
	if err := out.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

// Close flushes pending records and closes the log file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.flushLocked(true), w.file.Close())
}

func (w *FileWAL) flushLocked(fsync bool) error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if fsync {
		return w.file.Sync()
	}
	return nil
}

func (w *FileWAL) persistMetaLocked() error {
	tmp := w.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(w.committed), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.metaPath)
}

var _ ports.WAL = (*FileWAL)(nil)
