package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"farmcrew/pkg/logx"

	"github.com/klauspost/compress/zstd"
)

const (
	// fileKeepOrders caps the records kept in memory and in the compacted snapshot.
	fileKeepOrders = 10000
	// fileCompactEvery is the journal length that triggers compaction.
	fileCompactEvery = 500
)

// fileStore is the file persistence backend.
//
// Files:
//   - <prefix>.orders.jsonl         (append-only journal)
//   - <prefix>.orders.snapshot.zst  (zstd-compressed JSON Lines)
//   - <prefix>.dedup.snapshot.json  (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl  (append-only journal)
//
// Journals are periodically compacted into their snapshots.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	ordersSnapshotPath string
	ordersJournal      *os.File
	orders             []OrderRecord // oldest first
	orderWrites        int

	dedupSnapshotPath string
	dedupJournal      *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:                log,
		ordersSnapshotPath: prefix + ".orders.snapshot.zst",
		dedupSnapshotPath:  prefix + ".dedup.snapshot.json",
		dedup:              map[string]int64{},
	}
	ordersJournalPath := prefix + ".orders.jsonl"
	dedupJournalPath := prefix + ".dedup.journal.jsonl"

	if err := loadOrderSnapshot(s.ordersSnapshotPath, &s.orders); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("orders snapshot unreadable, starting from journal", logx.Err(err))
	}
	n, err := replayOrderJournal(ordersJournalPath, &s.orders)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.orderWrites = n
	s.orders = dedupeOrders(s.orders)
	s.trimOrdersLocked()

	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.dedup)
	_ = replayDedupJournal(dedupJournalPath, s.dedup)
	pruneExpiredDedup(s.dedup)

	s.ordersJournal, err = os.OpenFile(ordersJournalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.dedupJournal, err = os.OpenFile(dedupJournalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = s.ordersJournal.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("orders", len(s.orders)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.ordersJournal != nil {
		if s.orderWrites > 0 {
			if err := s.compactOrdersLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, s.ordersJournal.Close())
		s.ordersJournal = nil
	}
	if s.dedupJournal != nil {
		errs = append(errs, s.dedupJournal.Close())
		s.dedupJournal = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendOrder(ctx context.Context, r OrderRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ordersJournal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.ordersJournal).Encode(r); err != nil {
		return err
	}
	s.orders = append(s.orders, r)
	s.trimOrdersLocked()
	s.orderWrites++
	if s.orderWrites >= fileCompactEvery {
		// Best-effort compact.
		if err := s.compactOrdersLocked(); err != nil {
			s.log.Warn("orders compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.orders) {
		limit = len(s.orders)
	}
	out := make([]OrderRecord, 0, limit)
	for i := len(s.orders) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.orders[i])
	}
	return out, nil
}

func (s *fileStore) trimOrdersLocked() {
	if over := len(s.orders) - fileKeepOrders; over > 0 {
		s.orders = append(s.orders[:0:0], s.orders[over:]...)
	}
}

// compactOrdersLocked rewrites the snapshot from memory and truncates the journal.
func (s *fileStore) compactOrdersLocked() error {
	tmp := s.ordersSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	enc := json.NewEncoder(zw)
	for _, r := range s.orders {
		if err := enc.Encode(r); err != nil {
			_ = zw.Close()
			_ = f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.ordersSnapshotPath); err != nil {
		return err
	}
	if s.ordersJournal != nil {
		if err := s.ordersJournal.Truncate(0); err != nil {
			return err
		}
		if _, err := s.ordersJournal.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}
	s.orderWrites = 0
	return nil
}

// dedupeOrders keeps the last record per id. Duplicates appear when a crash lands
// between snapshot rename and journal truncation.
func dedupeOrders(in []OrderRecord) []OrderRecord {
	last := make(map[string]int, len(in))
	for i, r := range in {
		last[r.ID] = i
	}
	if len(last) == len(in) {
		return in
	}
	out := make([]OrderRecord, 0, len(last))
	for i, r := range in {
		if last[r.ID] == i {
			out = append(out, r)
		}
	}
	return out
}

func loadOrderSnapshot(path string, out *[]OrderRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = decodeOrders(zr, out)
	return err
}

func replayOrderJournal(path string, out *[]OrderRecord) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return decodeOrders(f, out)
}

// decodeOrders reads JSON Lines, skipping torn or malformed lines.
func decodeOrders(r io.Reader, out *[]OrderRecord) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		var rec OrderRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ID == "" {
			continue
		}
		*out = append(*out, rec)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournal == nil {
		return ErrClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournal).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactDedupLocked() error {
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournal.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournal.Seek(0, io.SeekEnd)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
