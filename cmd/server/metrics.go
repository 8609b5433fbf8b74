package main

import (
	"fmt"
	"io"
	"sort"

	"hivework.ai/internal/sim/jobs"
)

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, rt *runtime) {
	sess := rt.sess

	fmt.Fprintf(w, "# HELP hivework_tick Current simulation tick.\n")
	fmt.Fprintf(w, "# TYPE hivework_tick gauge\n")
	fmt.Fprintf(w, "hivework_tick %d\n", sess.CurrentTick())

	fmt.Fprintf(w, "# HELP hivework_active_agents Agents currently out of their source.\n")
	fmt.Fprintf(w, "# TYPE hivework_active_agents gauge\n")
	fmt.Fprintf(w, "hivework_active_agents %d\n", sess.ActiveAgents())

	byStatus := map[string]int{
		string(jobs.StatusWaitingForCapacity): 0,
		string(jobs.StatusInProgress):         0,
		string(jobs.StatusCompleted):          0,
		string(jobs.StatusCancelled):          0,
	}
	pending := 0
	for _, j := range sess.Jobs() {
		byStatus[j.Status]++
		pending += j.Pending
	}
	statuses := make([]string, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	fmt.Fprintf(w, "# HELP hivework_jobs Jobs in the pool by status.\n")
	fmt.Fprintf(w, "# TYPE hivework_jobs gauge\n")
	for _, st := range statuses {
		fmt.Fprintf(w, "hivework_jobs{status=%q} %d\n", st, byStatus[st])
	}
	fmt.Fprintf(w, "# HELP hivework_pending_tasks Tasks waiting for an agent.\n")
	fmt.Fprintf(w, "# TYPE hivework_pending_tasks gauge\n")
	fmt.Fprintf(w, "hivework_pending_tasks %d\n", pending)

	fmt.Fprintf(w, "# HELP hivework_sources Registered contribution sources.\n")
	fmt.Fprintf(w, "# TYPE hivework_sources gauge\n")
	fmt.Fprintf(w, "hivework_sources %d\n", len(sess.Manager().Sources()))

	if rt.hub != nil {
		fmt.Fprintf(w, "# HELP hivework_progress_clients Connected progress observers.\n")
		fmt.Fprintf(w, "# TYPE hivework_progress_clients gauge\n")
		fmt.Fprintf(w, "hivework_progress_clients %d\n", rt.hub.Clients())
		fmt.Fprintf(w, "# HELP hivework_progress_dropped_total Progress messages dropped for slow observers.\n")
		fmt.Fprintf(w, "# TYPE hivework_progress_dropped_total counter\n")
		fmt.Fprintf(w, "hivework_progress_dropped_total %d\n", rt.hub.Dropped())
	}
	if rt.jobLog != nil {
		fmt.Fprintf(w, "# HELP hivework_joblog_lines_total Lines written to the job event log.\n")
		fmt.Fprintf(w, "# TYPE hivework_joblog_lines_total counter\n")
		fmt.Fprintf(w, "hivework_joblog_lines_total %d\n", rt.jobLog.Lines())
	}
	if rt.idx != nil {
		s := rt.idx.Stats()
		fmt.Fprintf(w, "# HELP hivework_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(w, "# TYPE hivework_index_queue_depth gauge\n")
		fmt.Fprintf(w, "hivework_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(w, "# HELP hivework_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(w, "# TYPE hivework_index_dropped_total counter\n")
		fmt.Fprintf(w, "hivework_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
		fmt.Fprintf(w, "hivework_index_dropped_total{kind=%q} %d\n", "progress", s.DropProgressTotal)
		fmt.Fprintf(w, "# HELP hivework_index_write_errors_total Failed index transactions.\n")
		fmt.Fprintf(w, "# TYPE hivework_index_write_errors_total counter\n")
		fmt.Fprintf(w, "hivework_index_write_errors_total %d\n", s.WriteErrorTotal)
	}
}
