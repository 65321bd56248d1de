package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/history"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to history.db")
	last := flag.Int("last", 20, "show N most recent rows")
	runID := flag.String("run", "", "show detail for one run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/history.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	store, err := history.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runID != "" {
		err = runDetailMode(store, *runID, *last, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type runRow struct {
	RunID        string `json:"run_id"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
	FinalEpisode int    `json:"final_episode"`
}

func runListMode(store *history.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		row := runRow{
			RunID:        r.RunID,
			StartedAt:    r.StartedAt.Format("2006-01-02T15:04:05Z"),
			FinalEpisode: r.FinalEpisode,
		}
		if r.Finished {
			row.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
		}
		rows[i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-20s  %-20s  %s\n", "Run", "Started", "Finished", "Episodes")
	fmt.Printf("%-12s+-%-20s+-%-20s+-%s\n", "------------", "--------------------", "--------------------", "--------")
	for _, r := range rows {
		finished := "running"
		if r.FinishedAt != "" {
			finished = r.FinishedAt
		}
		fmt.Printf("%-12s  %-20s  %-20s  %8d\n", shortID(r.RunID), r.StartedAt, finished, r.FinalEpisode)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type runDetail struct {
	RunID       string                  `json:"run_id"`
	Episodes    []history.EpisodeRow    `json:"episodes"`
	Adjustments []history.AdjustmentRow `json:"adjustments"`
	BestEvals   []history.EvaluationRow `json:"best_evals"`
}

func runDetailMode(store *history.Store, runID string, last int, jsonOut bool) error {
	episodes, err := store.RecentEpisodes(runID, last)
	if err != nil {
		return err
	}
	adjustments, err := store.ListAdjustments(runID, last)
	if err != nil {
		return err
	}
	bests, err := store.BestEvaluations(runID, last)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(runDetail{
			RunID:       runID,
			Episodes:    episodes,
			Adjustments: adjustments,
			BestEvals:   bests,
		})
	}

	fmt.Printf("Run: %s\n", runID)

	fmt.Printf("\nRecent episodes:\n")
	fmt.Printf("%8s  %8s  %6s  %6s  %-8s  %5s  %7s  %8s\n",
		"Episode", "Reward", "Fruit", "Len", "Cause", "Board", "Eps", "LR")
	for _, e := range episodes {
		fmt.Printf("%8d  %8.1f  %6d  %6d  %-8s  %5d  %7.3f  %8.5f\n",
			e.Episode, e.Reward, e.Fruits, e.Length, e.Cause, e.BoardSize, e.Epsilon, e.LR)
	}

	fmt.Printf("\nScheduler adjustments:\n")
	fmt.Printf("%8s  %-18s  %-16s  %10s  %10s  %s\n",
		"Episode", "Rule", "Parameter", "Old", "New", "Reason")
	for _, a := range adjustments {
		fmt.Printf("%8d  %-18s  %-16s  %10.4f  %10.4f  %s\n",
			a.Episode, a.Rule, a.Parameter, a.OldValue, a.NewValue, a.Reason)
	}

	fmt.Printf("\nBest evaluations:\n")
	fmt.Printf("%8s  %8s\n", "Episode", "Score")
	for _, b := range bests {
		fmt.Printf("%8d  %8.2f\n", b.Episode, b.Score)
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion output
