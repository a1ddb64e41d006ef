// Package audit persists an append-only, tamper-evident log of scoring
// decisions.
//
// Every entry gets a monotonically increasing sequence under the log
// lock and its own file, written atomically (exclusive temp file, fsync,
// rename) with 0600 permissions. Entries carry an HMAC-SHA256 checksum
// under a random per-log key; verification on load is constant-time, and
// corrupt entries are skipped with a warning rather than poisoning the
// scan. Storage failures are retried with exponential backoff and then
// surfaced; an append never silently drops. An optional NATS publisher
// mirrors appended entries to decisions.<action> as a fire-and-forget
// tap; the file log remains the source of truth.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/explain"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

var (
	// ErrInvalidConfig indicates unusable audit configuration
	ErrInvalidConfig = errors.New("invalid audit configuration")

	// ErrInvalidEntry indicates an entry that fails validation
	ErrInvalidEntry = errors.New("invalid audit entry")

	// ErrClosed indicates use after Close
	ErrClosed = errors.New("audit log is closed")
)

// Action is the decision taxonomy.
type Action string

const (
	ActionCandidateAdded  Action = "candidate_added"
	ActionCandidateScored Action = "candidate_scored"
	ActionCandidateRanked Action = "candidate_ranked"
	ActionJobCreated      Action = "job_created"
	ActionBiasDetected    Action = "bias_detected"
	ActionManualOverride  Action = "manual_override"
	ActionReportGenerated Action = "report_generated"
)

// Valid reports whether the action is part of the taxonomy.
func (a Action) Valid() bool {
	switch a {
	case ActionCandidateAdded, ActionCandidateScored, ActionCandidateRanked,
		ActionJobCreated, ActionBiasDetected, ActionManualOverride, ActionReportGenerated:
		return true
	}
	return false
}

// ActorType distinguishes human from automated actors.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Valid reports whether the actor type is recognized.
func (t ActorType) Valid() bool {
	return t == ActorUser || t == ActorSystem
}

// Actor identifies who caused an entry.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
}

// Entry is one audit record. Sequence and Checksum are assigned by
// Append; a zero Timestamp is replaced with the append time.
type Entry struct {
	Sequence    uint64               `json:"sequence"`
	Action      Action               `json:"action"`
	Actor       Actor                `json:"actor"`
	EntityID    string               `json:"entity_id,omitempty"`
	Score       *scoring.MatchScore  `json:"score,omitempty"`
	Explanation *explain.Explanation `json:"explanation,omitempty"`
	ReportID    string               `json:"report_id,omitempty"`
	Detail      string               `json:"detail,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
	Checksum    string               `json:"checksum,omitempty"`
}

const keyFileName = "hmac.key"

// Log is the append-only audit log. Safe for concurrent use.
type Log struct {
	dir       string
	retry     config.RetryConfig
	logger    *zap.Logger
	now       func() time.Time
	publisher *natsPublisher

	mu     sync.Mutex
	seq    uint64
	key    []byte
	closed bool
}

// NewLog opens (or initializes) the audit log under cfg.Path. The HMAC
// key is created on first open and reused afterward; losing it makes
// existing entries unverifiable. Stale temp files from interrupted
// writes are swept. When NATS publishing is enabled the connection is
// established here.
func NewLog(cfg config.AuditConfig, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialBackoff.Duration() <= 0 {
		retry.InitialBackoff = config.Duration(time.Second)
	}
	if retry.MaxBackoff.Duration() <= 0 {
		retry.MaxBackoff = config.Duration(30 * time.Second)
	}
	if retry.BackoffMultiplier <= 0 {
		retry.BackoffMultiplier = 2.0
	}

	l := &Log{
		dir:    cfg.Path,
		retry:  retry,
		logger: logger,
		now:    time.Now,
	}

	if err := l.loadKey(); err != nil {
		return nil, err
	}
	if err := l.scan(); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		publisher, err := newNATSPublisher(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		l.publisher = publisher
	}

	logger.Info("audit log opened",
		zap.String("path", cfg.Path),
		zap.Uint64("last_sequence", l.seq),
		zap.Bool("nats_enabled", cfg.NATS.Enabled))
	return l, nil
}

// loadKey reads the HMAC key, generating a random 256-bit one on first
// open.
func (l *Log) loadKey() error {
	path := filepath.Join(l.dir, keyFileName)

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != sha256.Size {
			return fmt.Errorf("%w: key file %s has %d bytes, want %d", ErrInvalidConfig, path, len(key), sha256.Size)
		}
		l.key = key
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading audit key: %w", err)
	}

	key = make([]byte, sha256.Size)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating audit key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("writing audit key: %w", err)
	}
	l.key = key
	return nil
}

// scan finds the highest existing sequence and sweeps temp files left
// by interrupted writes.
func (l *Log) scan() error {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("scanning audit directory: %w", err)
	}

	for _, file := range files {
		name := file.Name()
		if strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(l.dir, name)); err == nil {
				l.logger.Debug("swept stale audit temp file", zap.String("file", name))
			}
			continue
		}
		if seq, ok := parseEntryName(name); ok && seq > l.seq {
			l.seq = seq
		}
	}
	return nil
}

func entryFileName(seq uint64) string {
	return fmt.Sprintf("%020d.json", seq)
}

func parseEntryName(name string) (uint64, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Append validates, seals, and persists one entry, returning its
// sequence. The sequence is assigned under the log lock; on storage
// failure it is released again, so persisted sequences stay dense.
func (l *Log) Append(ctx context.Context, entry Entry) (uint64, error) {
	if !entry.Action.Valid() {
		return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, entry.Action)
	}
	if entry.Actor.ID == "" {
		return 0, fmt.Errorf("%w: actor id is required", ErrInvalidEntry)
	}
	if !entry.Actor.Type.Valid() {
		return 0, fmt.Errorf("%w: unknown actor type %q", ErrInvalidEntry, entry.Actor.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	l.seq++
	entry.Sequence = l.seq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	checksum, err := l.checksum(entry)
	if err != nil {
		l.seq--
		return 0, fmt.Errorf("sealing audit entry: %w", err)
	}
	entry.Checksum = checksum

	data, err := json.Marshal(entry)
	if err != nil {
		l.seq--
		return 0, fmt.Errorf("encoding audit entry: %w", err)
	}

	if err := l.writeEntry(ctx, entry.Sequence, data); err != nil {
		l.seq--
		return 0, err
	}

	if l.publisher != nil {
		l.publisher.publish(entry)
	}
	return entry.Sequence, nil
}

// writeEntry persists one sealed entry with retry and exponential
// backoff. The write is atomic: exclusive temp file, fsync, rename.
func (l *Log) writeEntry(ctx context.Context, seq uint64, data []byte) error {
	backoff := l.retry.InitialBackoff.Duration()
	var lastErr error

	for attempt := 0; attempt <= l.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			l.logger.Debug("retrying audit write",
				zap.Uint64("sequence", seq),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("audit write canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * l.retry.BackoffMultiplier)
			if max := l.retry.MaxBackoff.Duration(); max > 0 && backoff > max {
				backoff = max
			}
		}

		if err := l.writeFile(seq, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	l.logger.Error("audit write failed after all retries",
		zap.Uint64("sequence", seq),
		zap.Int("attempts", l.retry.MaxRetries+1),
		zap.Error(lastErr))
	return fmt.Errorf("audit append failed after %d retries: %w", l.retry.MaxRetries, lastErr)
}

func (l *Log) writeFile(seq uint64, data []byte) error {
	final := filepath.Join(l.dir, entryFileName(seq))
	tmp := final + ".tmp"

	// Clear any leftover from a previous failed attempt so the
	// exclusive create below can succeed.
	os.Remove(tmp)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing entry: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing entry: %w", err)
	}
	return nil
}

// checksum computes the entry's HMAC with the checksum field cleared.
func (l *Log) checksum(entry Entry) (string, error) {
	entry.Checksum = ""
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// verify recomputes the checksum and compares in constant time.
func (l *Log) verify(entry Entry) bool {
	want := entry.Checksum
	got, err := l.checksum(entry)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(got), []byte(want))
}

// Entries returns all verifiable entries with sequence >= fromSeq in
// sequence order. Entries that fail to parse or verify, or whose file
// name disagrees with their sealed sequence, are skipped with a warning.
func (l *Log) Entries(ctx context.Context, fromSeq uint64) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	files, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("scanning audit directory: %w", err)
	}

	var entries []Entry
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nameSeq, ok := parseEntryName(file.Name())
		if !ok || nameSeq < fromSeq {
			continue
		}

		path := filepath.Join(l.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("unreadable audit entry skipped", zap.String("file", file.Name()), zap.Error(err))
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			l.logger.Warn("corrupt audit entry skipped", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		if !l.verify(entry) {
			l.logger.Warn("corrupt audit entry skipped",
				zap.String("file", file.Name()),
				zap.String("reason", "checksum mismatch"))
			continue
		}
		if entry.Sequence != nameSeq {
			l.logger.Warn("corrupt audit entry skipped",
				zap.String("file", file.Name()),
				zap.String("reason", "sequence does not match file name"))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Compact removes entries older than the retention window and returns
// how many were deleted. Files that cannot be verified are left in
// place.
func (l *Log) Compact(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidConfig)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	cutoff := l.now().UTC().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("scanning audit directory: %w", err)
	}

	deleted := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		nameSeq, ok := parseEntryName(file.Name())
		if !ok {
			continue
		}

		path := filepath.Join(l.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || !l.verify(entry) || entry.Sequence != nameSeq {
			continue
		}
		if !entry.Timestamp.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return deleted, fmt.Errorf("removing expired entry %s: %w", file.Name(), err)
		}
		deleted++
	}

	if deleted > 0 {
		l.logger.Info("audit log compacted",
			zap.Int("deleted", deleted),
			zap.Int("retention_days", retentionDays))
	}
	return deleted, nil
}

// Close releases the publisher connection and rejects further use.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.publisher != nil {
		l.publisher.close()
	}
	return nil
}
