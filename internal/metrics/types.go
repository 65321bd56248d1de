package metrics

// #region terminal-cause

// TerminalCause identifies how an episode ended.
type TerminalCause string

const (
	TerminalWall    TerminalCause = "wall"
	TerminalSelf    TerminalCause = "self"
	TerminalStarved TerminalCause = "starved"
)

// #endregion terminal-cause

// #region episode-record

// EpisodeRecord captures one finished episode. Immutable once recorded.
type EpisodeRecord struct {
	Episode        int           `json:"episode"`
	Reward         float64       `json:"reward"`
	Fruits         int           `json:"fruits"`
	Length         int           `json:"length"`
	Cause          TerminalCause `json:"cause"`
	LoopHits       int           `json:"loop_hits"`
	Revisits       int           `json:"revisits"`
	RevisitPenalty float64       `json:"revisit_penalty"`
	TimeToGoal     []int         `json:"time_to_goal,omitempty"` // steps between consecutive fruits
}

// #endregion episode-record

// #region summary

// Summary is a point-in-time view over the rolling windows.
type Summary struct {
	Episodes int `json:"episodes"`

	AvgReward100 float64 `json:"avg_reward_100"`
	AvgReward500 float64 `json:"avg_reward_500"`
	AvgScore100  float64 `json:"avg_score_100"`
	AvgScore500  float64 `json:"avg_score_500"`
	AvgLength100 float64 `json:"avg_length_100"`
	AvgLength500 float64 `json:"avg_length_500"`

	WallRate   float64 `json:"wall_rate"`
	SelfRate   float64 `json:"self_rate"`
	StarveRate float64 `json:"starve_rate"`

	LoopHitRate    float64 `json:"loop_hit_rate"`    // fraction of episodes with at least one loop hit
	RevisitRate    float64 `json:"revisit_rate"`     // mean revisits per step
	MeanTimeToGoal float64 `json:"mean_time_to_goal"`

	LossMean float64 `json:"loss_mean"`
	LossStd  float64 `json:"loss_std"`

	// ScoreSlope is the least-squares slope of the score moving-average
	// series over its most recent samples; the scheduler's stagnation signal.
	ScoreSlope float64 `json:"score_slope"`

	// TDErrorRatio is p95/p50 of recent absolute TD errors. A heavy tail
	// (high ratio) argues for harder prioritization.
	TDErrorRatio float64 `json:"td_error_ratio"`
}

// #endregion summary
