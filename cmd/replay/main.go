package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "hivework.ai/internal/persistence/log"
	"hivework.ai/internal/protocol"
)

// replay reads the job event log and prints one line per job, checking that
// every job's history is a legal lifecycle.
func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory (reads <data>/events/jobs-*.jsonl.zst)")
		jobID    = flag.String("job", "", "only report this job (optional)")
		fromTick = flag.Uint64("from_tick", 0, "ignore events before tick (optional)")
		toTick   = flag.Uint64("to_tick", 0, "ignore events after tick (optional)")
	)
	flag.Parse()

	files, err := listEventFiles(filepath.Join(*dataDir, "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no job event files found in", *dataDir)
		os.Exit(1)
	}

	sum := newSummary(*jobID, *fromTick, *toTick)
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var ev protocol.JobEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			return sum.add(ev)
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	sum.print(os.Stdout)
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "jobs-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type jobLine struct {
	ID        string
	OwnerID   string
	Kind      string
	Tasks     int
	Started   uint64
	Ended     uint64
	EndStatus string
}

type summary struct {
	only     string
	from, to uint64

	jobs     map[string]*jobLine
	rejected map[string]int
}

func newSummary(only string, from, to uint64) *summary {
	return &summary{only: only, from: from, to: to, jobs: map[string]*jobLine{}, rejected: map[string]int{}}
}

// add folds one event in. A job may start once and end once; anything else
// means the log is corrupt.
func (s *summary) add(ev protocol.JobEvent) error {
	if ev.Tick < s.from || (s.to != 0 && ev.Tick > s.to) {
		return nil
	}
	if s.only != "" && ev.JobID != s.only {
		return nil
	}
	switch ev.Type {
	case protocol.EventJobRejected:
		s.rejected[ev.Code]++
	case protocol.EventJobStarted:
		if _, dup := s.jobs[ev.JobID]; dup {
			return fmt.Errorf("job %s started twice (tick %d)", ev.JobID, ev.Tick)
		}
		s.jobs[ev.JobID] = &jobLine{ID: ev.JobID, OwnerID: ev.OwnerID, Kind: ev.Kind, Tasks: ev.Tasks, Started: ev.Tick}
	case protocol.EventJobCompleted, protocol.EventJobCancelled:
		j, ok := s.jobs[ev.JobID]
		if !ok {
			// Started before from_tick.
			j = &jobLine{ID: ev.JobID, OwnerID: ev.OwnerID}
			s.jobs[ev.JobID] = j
		}
		if j.EndStatus != "" {
			return fmt.Errorf("job %s ended twice (tick %d)", ev.JobID, ev.Tick)
		}
		if ev.Tick < j.Started {
			return fmt.Errorf("job %s ended at tick %d before it started at %d", ev.JobID, ev.Tick, j.Started)
		}
		j.Ended = ev.Tick
		j.EndStatus = ev.Status
	default:
		return fmt.Errorf("unknown event type %q at tick %d", ev.Type, ev.Tick)
	}
	return nil
}

func (s *summary) print(w io.Writer) {
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	open := 0
	for _, id := range ids {
		j := s.jobs[id]
		status := j.EndStatus
		if status == "" {
			status = "OPEN"
			open++
		}
		fmt.Fprintf(w, "%s owner=%s kind=%s tasks=%d started=%d ended=%d status=%s\n",
			j.ID, j.OwnerID, j.Kind, j.Tasks, j.Started, j.Ended, status)
	}
	codes := make([]string, 0, len(s.rejected))
	for c := range s.rejected {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "rejected code=%s count=%d\n", c, s.rejected[c])
	}
	fmt.Fprintf(w, "replay ok: jobs=%d open=%d\n", len(s.jobs), open)
}
