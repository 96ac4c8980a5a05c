package tick

import "math"

// Stats is a read-only diagnostics snapshot, computed on demand.
type Stats struct {
	Running            bool    `json:"running"`
	TickRate           float64 `json:"tick_rate"`
	TickCount          uint64  `json:"tick_count"`
	FrameCount         uint64  `json:"frame_count"`
	FPS                float64 `json:"fps"`
	HandlerCount       int     `json:"handler_count"`
	TimeStep           float64 `json:"time_step"`
	TimeScale          float64 `json:"time_scale"`
	EffectiveTimeScale float64 `json:"effective_time_scale"`
	TimeRatio          float64 `json:"time_ratio"`
	Accumulator        float64 `json:"accumulator"`
	TotalGameTime      float64 `json:"total_game_time"`
	CurrentDay         int     `json:"current_day"`
	DayProgress        float64 `json:"day_progress"`
	DroppedSeconds     float64 `json:"dropped_seconds"`
	DroppedFrames      uint64  `json:"dropped_frames"`
}

// Stats reports the dispatcher and clock state.
func (d *Dispatcher) Stats() Stats {
	total := d.clock.TotalGameTime()
	day, progress := DayOf(total, d.secondsPerDay)
	return Stats{
		Running:            d.running,
		TickRate:           d.tickRate,
		TickCount:          d.tickCount,
		FrameCount:         d.frameCount,
		FPS:                d.fps,
		HandlerCount:       len(d.entries),
		TimeStep:           d.timestep,
		TimeScale:          d.clock.TimeScale(),
		EffectiveTimeScale: d.clock.EffectiveTimeScale(),
		TimeRatio:          d.clock.TimeRatio(),
		Accumulator:        d.accumulator,
		TotalGameTime:      total,
		CurrentDay:         day,
		DayProgress:        progress,
		DroppedSeconds:     d.droppedSeconds,
		DroppedFrames:      d.droppedFrames,
	}
}

func (d *Dispatcher) TickRate() float64      { return d.tickRate }
func (d *Dispatcher) TimeStep() float64      { return d.timestep }
func (d *Dispatcher) TickCount() uint64      { return d.tickCount }
func (d *Dispatcher) Accumulator() float64   { return d.accumulator }
func (d *Dispatcher) SecondsPerDay() float64 { return d.secondsPerDay }

// DayOf derives the 1-indexed day number and the fraction of that day
// elapsed from total game time.
func DayOf(totalGameTime, secondsPerDay float64) (day int, progress float64) {
	if secondsPerDay <= 0 || totalGameTime < 0 {
		return 1, 0
	}
	day = int(math.Floor(totalGameTime/secondsPerDay)) + 1
	progress = math.Mod(totalGameTime, secondsPerDay) / secondsPerDay
	return day, progress
}
