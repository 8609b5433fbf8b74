package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"hivework.ai/internal/persistence/indexdb"
	persistlog "hivework.ai/internal/persistence/log"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/session"
	"hivework.ai/internal/sim/sources"
	"hivework.ai/internal/sim/tuning"
	"hivework.ai/internal/sim/world"
	"hivework.ai/internal/transport/progress"
)

type runtimeIndex interface {
	session.EventSink
	session.ProgressSink
	progress.HistoryReader
	Close() error
	UpsertCatalogs(ctx context.Context, configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("HW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "jobs.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported HW_INDEX_BACKEND: %s", backend)
	}
}

// buildSession creates one grid per configured world and registers its
// sources.
func buildSession(tune tuning.Tuning, cats *catalogs.Catalogs, logger *log.Logger) (*session.Session, error) {
	sess := session.New(session.Config{Tuning: tune, Catalogs: cats, Logger: logger})
	for _, ws := range tune.Worlds {
		sess.AddWorld(world.NewGrid(ws.ID, cats))
		for _, spec := range ws.Sources {
			src, err := sources.FromTuning(ws.ID, spec, tune.Work)
			if err != nil {
				return nil, fmt.Errorf("world %s: %w", ws.ID, err)
			}
			sess.RegisterSource(src)
		}
	}
	return sess, nil
}

type runtime struct {
	sess   *session.Session
	hub    *progress.Hub
	jobLog *persistlog.JobLogger
	idx    runtimeIndex
}

func newMux(rt *runtime, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, rt)
	})

	var history progress.HistoryReader
	if rt.idx != nil {
		history = rt.idx
	}
	progress.NewAPI(rt.sess, history, logger).Register(mux, rt.hub)
	return mux
}
