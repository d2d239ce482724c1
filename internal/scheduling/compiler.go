// Package scheduling turns medication records into timed dose events and
// drives them through their lifecycle: the compiler expands a frequency tag
// into concrete clock times, the scheduler fires due events and expires
// stale ones under a per-partition lease.
package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// CompilerConfig holds the schedule expansion parameters.
type CompilerConfig struct {
	// WindowStartMin / WindowEndMin bound the waking window in minutes
	// from local midnight.
	WindowStartMin int
	WindowEndMin   int
	// MaxHorizonDays caps how far ahead an indefinite course generates
	// events.
	MaxHorizonDays int
	// Location is the timezone dose clock times are anchored in.
	Location *time.Location
}

// DefaultCompilerConfig is the 08:00-22:00 window with a 90 day horizon.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		WindowStartMin: 8 * 60,
		WindowEndMin:   22 * 60,
		MaxHorizonDays: 90,
		Location:       time.Local,
	}
}

// Compiler expands records into dose times.  It is synchronous and pure:
// no I/O, no clock reads beyond the caller-supplied reference.
type Compiler struct {
	cfg CompilerConfig
}

// NewCompiler validates the window and returns a compiler.
func NewCompiler(cfg CompilerConfig) (*Compiler, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxHorizonDays <= 0 {
		cfg.MaxHorizonDays = DefaultCompilerConfig().MaxHorizonDays
	}
	if cfg.WindowStartMin < 0 || cfg.WindowEndMin > 24*60 ||
		cfg.WindowEndMin <= cfg.WindowStartMin {
		return nil, errors.InvalidParam("waking window is not a valid interval")
	}
	return &Compiler{cfg: cfg}, nil
}

// dosesPerDay maps the canonical frequency vocabulary onto daily counts.
var dosesPerDay = map[common.FrequencyTag]int{
	common.FreqOnceDaily:       1,
	common.FreqTwiceDaily:      2,
	common.FreqThreeTimesDaily: 3,
	common.FreqFourTimesDaily:  4,
	common.FreqMorning:         1,
	common.FreqNight:           1,
	common.FreqAsNeeded:        0,
}

// Compile returns every dose time for the record strictly after ref, in
// ascending order.  As-needed medication compiles to zero events with nil
// error; an unknown frequency is a schedule error and the caller keeps the
// record in the deferred state.
func (c *Compiler) Compile(rec *medication.Record, ref time.Time) ([]time.Time, error) {
	if rec == nil {
		return nil, errors.InvalidParam("record is required")
	}
	doses, known := dosesPerDay[rec.Frequency]
	if !known {
		return nil, errors.New(errors.ErrCodeScheduleUnresolvable,
			fmt.Sprintf("frequency %q cannot be scheduled", rec.Frequency))
	}
	if doses == 0 {
		return nil, nil
	}

	ref = ref.In(c.cfg.Location)
	horizon := ref.AddDate(0, 0, c.cfg.MaxHorizonDays)

	start := rec.StartDate.In(c.cfg.Location)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, c.cfg.Location)
	if startDay.After(horizon) {
		return nil, errors.New(errors.ErrCodeScheduleHorizonExceeded,
			fmt.Sprintf("start date %s is beyond the %d day scheduling horizon",
				startDay.Format("2006-01-02"), c.cfg.MaxHorizonDays))
	}

	// End of the course, or the horizon for indefinite medication.
	var endDay time.Time
	if rec.DurationDays > 0 {
		endDay = startDay.AddDate(0, 0, rec.DurationDays-1)
	} else {
		endDay = horizon
	}
	if endDay.After(horizon) {
		endDay = horizon
	}

	slots := c.slotMinutes(rec.Frequency, doses)

	var out []time.Time
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		for _, m := range slots {
			at := day.Add(time.Duration(m) * time.Minute)
			if !at.After(ref) || at.After(horizon) {
				continue
			}
			out = append(out, at.UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// slotMinutes spreads n doses across the waking window.  A single dose
// anchors at the window start, except the night tag which anchors at the
// window end.  Multiple doses are spaced evenly inclusive of both window
// ends.
func (c *Compiler) slotMinutes(tag common.FrequencyTag, n int) []int {
	start, end := c.cfg.WindowStartMin, c.cfg.WindowEndMin
	if n == 1 {
		if tag == common.FreqNight {
			return []int{end}
		}
		return []int{start}
	}
	span := end - start
	slots := make([]int, n)
	for i := 0; i < n; i++ {
		slots[i] = start + i*span/(n-1)
	}
	return slots
}
