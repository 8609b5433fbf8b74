package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of job events and progress
// snapshots. Writes are queued and applied by a single goroutine; when the
// queue is full they are dropped and counted. The JSONL event log stays the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB
	// ro serves history queries so they do not wait on the writer's open tx.
	ro *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropProgress atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqProgress
)

type req struct {
	kind reqKind

	event    protocol.JobEvent
	progress protocol.ProgressMsg
}

// Stats is a point-in-time view of the write queue.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropEventTotal    uint64
	DropProgressTotal uint64
	WriteErrorTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ro, err := sql.Open("sqlite", path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ro.SetMaxOpenConns(4)
	if _, err := ro.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = ro.Close()
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ro: ro,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			world_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			tasks INTEGER NOT NULL,
			required INTEGER NOT NULL,
			contributed INTEGER NOT NULL,
			started_tick INTEGER NOT NULL,
			ended_tick INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id, started_tick);`,
		`CREATE TABLE IF NOT EXISTS job_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			type TEXT NOT NULL,
			job_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			code TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, seq);`,
		`CREATE TABLE IF NOT EXISTS job_progress (
			tick INTEGER NOT NULL,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			in_progress INTEGER NOT NULL,
			committed INTEGER NOT NULL,
			progress REAL NOT NULL,
			PRIMARY KEY (tick, job_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_progress_job ON job_progress(job_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		if s.ro != nil {
			_ = s.ro.Close()
		}
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvent.Load(),
		DropProgressTotal: s.dropProgress.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// RecordJobEvent implements session.EventSink.
func (s *SQLiteIndex) RecordJobEvent(ev protocol.JobEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvent.Add(1)
	}
}

// PublishProgress implements session.ProgressSink.
func (s *SQLiteIndex) PublishProgress(msg protocol.ProgressMsg) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqProgress, progress: msg}:
	default:
		s.dropProgress.Add(1)
	}
}

// UpsertCatalogs stores the block catalog, blueprints and applied tuning so
// history rows can be read against the configuration that produced them.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" && cats != nil {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil {
			rows = append(rows, kv{name: "blocks", digest: cats.Blocks.Digest, json: b})
		}
	}
	if cats != nil {
		bps := make([]catalogs.BlueprintDef, 0, len(cats.Blueprints.ByID))
		for _, bp := range cats.Blueprints.ByID {
			bps = append(bps, bp)
		}
		sort.Slice(bps, func(i, j int) bool { return bps[i].ID < bps[j].ID })
		if b, _ := json.Marshal(bps); len(b) > 0 {
			rows = append(rows, kv{name: "blueprints", digest: cats.Blueprints.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	return retryOp(ctx, defaultRetry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if r.name == "" || r.digest == "" || len(r.json) == 0 {
				continue
			}
			if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertJob, _ := s.db.Prepare(`INSERT INTO jobs(job_id,owner_id,world_id,kind,status,tasks,required,contributed,started_tick)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(job_id) DO UPDATE SET status=excluded.status, tasks=excluded.tasks,
			required=excluded.required, contributed=excluded.contributed`)
	endJob, _ := s.db.Prepare(`UPDATE jobs SET status=?, ended_tick=? WHERE job_id=?`)
	insertEvent, _ := s.db.Prepare(`INSERT INTO job_events(tick,type,job_id,owner_id,code,reason,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertProgress, _ := s.db.Prepare(`INSERT OR REPLACE INTO job_progress(tick,job_id,status,total,completed,in_progress,committed,progress) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{upsertJob, endJob, insertEvent, insertProgress} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		var txx *sql.Tx
		err := retryOp(ctx, defaultRetry, func() error {
			var err error
			txx, err = s.db.BeginTx(ctx, nil)
			return err
		})
		if err != nil {
			s.writeErrors.Add(1)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.writeErrors.Add(1)
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	idle := time.NewTicker(commitMaxWait / 2)
	defer idle.Stop()

	for {
		var r req
		select {
		case <-idle.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			raw, _ := json.Marshal(ev)
			if !exec(insertEvent, int64(ev.Tick), ev.Type, ev.JobID, ev.OwnerID, ev.Code, ev.Reason, string(raw)) {
				continue
			}
			switch ev.Type {
			case protocol.EventJobStarted:
				exec(upsertJob, ev.JobID, ev.OwnerID, ev.WorldID, ev.Kind, ev.Status, ev.Tasks, ev.Required, ev.Contributed, int64(ev.Tick))
			case protocol.EventJobCompleted, protocol.EventJobCancelled:
				exec(endJob, ev.Status, int64(ev.Tick), ev.JobID)
			}

		case reqProgress:
			for _, jp := range r.progress.Jobs {
				if !exec(insertProgress, int64(r.progress.Tick), jp.JobID, jp.Status, jp.Total, jp.Completed, jp.InProgress, jp.Committed, jp.Progress) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
