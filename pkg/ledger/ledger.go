package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"snapmem/pkg/logger"
)

// IndexFileName is the default name of the persisted index inside the
// processed directory
const IndexFileName = ".snapmem-ledger.db"

var processedName = regexp.MustCompile(`^(.+)-processed\.[A-Za-z0-9]+$`)

// Record describes one committed final artifact
type Record struct {
	ID          string
	FinalPath   string
	CompletedAt time.Time
}

// Ledger tracks which entries already have a final artifact. The done set is
// a snapshot taken when the ledger is opened plus every Record since.
type Ledger struct {
	processedDir string
	db           *sql.DB
	indexPath    string

	mu   sync.RWMutex
	done map[string]string // id -> final path

	logger logger.Logger
}

// Open scans processedDir and loads the index at indexPath. An empty
// indexPath places the index inside processedDir.
func Open(ctx context.Context, processedDir, indexPath string, log logger.Logger) (*Ledger, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if indexPath == "" {
		indexPath = filepath.Join(processedDir, IndexFileName)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", indexPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger index: %w", err)
	}
	// one writer keeps sqlite from reporting SQLITE_BUSY under concurrent commits
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	l := &Ledger{
		processedDir: processedDir,
		db:           db,
		indexPath:    indexPath,
		done:         make(map[string]string),
		logger:       log,
	}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.scan(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.loadIndex(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.InfoWithFields("Ledger loaded", map[string]interface{}{
		"done":  len(l.done),
		"index": indexPath,
	})
	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS ledger (
		id TEXT PRIMARY KEY,
		final_path TEXT NOT NULL,
		completed_at TEXT NOT NULL
	)`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// scan marks every <ID>-processed.<ext> file as done. Hidden files are
// staging files, the lock or the index itself and never count.
func (l *Ledger) scan() error {
	entries, err := os.ReadDir(l.processedDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan processed directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if m := processedName.FindStringSubmatch(name); m != nil {
			l.done[m[1]] = filepath.Join(l.processedDir, name)
		}
	}
	return nil
}

func (l *Ledger) loadIndex(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, "SELECT id, final_path FROM ledger")
	if err != nil {
		return fmt.Errorf("read ledger index: %w", err)
	}
	defer rows.Close()

	stale := 0
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if _, err := os.Stat(path); err != nil {
			stale++
			continue
		}
		l.done[id] = path
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ledger index: %w", err)
	}
	if stale > 0 {
		l.logger.DebugWithFields("Ignoring index rows without a file", map[string]interface{}{
			"stale": stale,
		})
	}
	return nil
}

// IsDone reports whether id already has a final artifact
func (l *Ledger) IsDone(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[id]
	return ok
}

// Path returns the final path recorded for id
func (l *Ledger) Path(id string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.done[id]
	return p, ok
}

// Len returns the number of done entries
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.done)
}

// Record marks rec.ID done and persists it to the index
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("ledger record without id")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The artifact is already on disk, so the in-memory set is updated even
	// when the index write fails.
	l.done[rec.ID] = rec.FinalPath
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO ledger (id, final_path, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET final_path = excluded.final_path, completed_at = excluded.completed_at`,
		rec.ID, rec.FinalPath, rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist ledger record %s: %w", rec.ID, err)
	}
	return nil
}

// Records returns the persisted index ordered by completion time
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id, final_path, completed_at FROM ledger ORDER BY completed_at, id")
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			completed string
		)
		if err := rows.Scan(&rec.ID, &rec.FinalPath, &completed); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IndexPath returns the location of the SQLite index
func (l *Ledger) IndexPath() string {
	return l.indexPath
}

// Close releases the index database
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
