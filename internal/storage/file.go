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

	logx "cocoview/pkg/logx"
)

const prefsCompactEvery = 200

// fileStore keeps everything in plain files next to cfg.Path:
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.prefs.snapshot.json (compacted prefs)
//   - <prefix>.prefs.journal.jsonl (append-only prefs journal)
//
// The journal is folded into the snapshot every prefsCompactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	prefsSnapshotPath string
	prefsJournal      *os.File
	prefs             map[string]string
	prefWrites        int
}

type prefRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".prefs.snapshot.json"
	journalPath := prefix + ".prefs.journal.jsonl"
	prefs := map[string]string{}
	if err := loadPrefsSnapshot(snapPath, prefs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("prefs snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayPrefsJournal(journalPath, prefs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("prefs journal unreadable", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("prefs", len(prefs)))
	return &fileStore{
		log:               log,
		auditFile:         af,
		prefsSnapshotPath: snapPath,
		prefsJournal:      jf,
		prefs:             prefs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.prefsJournal != nil {
		errs = append(errs, s.prefsJournal.Close())
		s.prefsJournal = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutPref(_ context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefsJournal == nil {
		return errors.New("prefs journal closed")
	}
	if cur, ok := s.prefs[key]; ok && cur == value {
		return nil
	}
	s.prefs[key] = value
	if err := json.NewEncoder(s.prefsJournal).Encode(prefRecord{Key: key, Value: value}); err != nil {
		return err
	}
	s.prefWrites++
	if s.prefWrites%prefsCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("prefs compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetPref(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[strings.TrimSpace(key)]
	return v, ok, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.prefsSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.prefs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.prefsSnapshotPath); err != nil {
		return err
	}
	if err := s.prefsJournal.Truncate(0); err != nil {
		return err
	}
	_, err = s.prefsJournal.Seek(0, io.SeekEnd)
	return err
}

func loadPrefsSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayPrefsJournal(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r prefRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Value
	}
	return sc.Err()
}
