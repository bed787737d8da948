package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/marketsim/internal/engine"
)

// Journal appends day reports as zstd-compressed JSON lines, one file per bucket of
// simulated days.
type Journal struct {
	baseDir     string
	prefix      string
	daysPerFile uint64

	mu     sync.Mutex
	bucket uint64
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

// NewJournal creates a journal under baseDir. daysPerFile defaults to one season.
func NewJournal(baseDir string, daysPerFile uint64) *Journal {
	if daysPerFile == 0 {
		daysPerFile = engine.DaysPerSeason
	}
	return &Journal{
		baseDir:     baseDir,
		prefix:      "days",
		daysPerFile: daysPerFile,
	}
}

// Write appends one report, rotating to a new file when the day leaves the current bucket.
func (j *Journal) Write(r *engine.DayReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	bucket := (r.Day - 1) / j.daysPerFile
	if j.w == nil || bucket != j.bucket {
		if err := j.rotateLocked(bucket); err != nil {
			return err
		}
	}

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(bucket uint64) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.baseDir, 0o755); err != nil {
		return err
	}
	path := j.pathForBucket(bucket)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 128*1024)
	j.bucket = bucket
	return nil
}

func (j *Journal) closeLocked() error {
	var err1 error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err1 = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.w = nil
	return err1
}

func (j *Journal) pathForBucket(bucket uint64) string {
	first := bucket*j.daysPerFile + 1
	last := first + j.daysPerFile - 1
	return filepath.Join(j.baseDir, fmt.Sprintf("%s-%06d-%06d.jsonl.zst", j.prefix, first, last))
}

// JournalFiles lists the journal files under dir in day order.
func JournalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "days-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal decodes every report in one journal file.
func ReadJournal(path string) ([]engine.DayReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []engine.DayReport
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var r engine.DayReport
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", filepath.Base(path), len(out)+1, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
