package common

// FrequencyTag is the canonical dosing-frequency vocabulary shared by the
// extraction pipeline, the medication domain, and the schedule compiler.
// Free-text frequency idioms ("1-1-1", "TDS", "twice a day") are normalised
// to exactly one of these tags at extraction time.
type FrequencyTag string

const (
	FreqOnceDaily       FrequencyTag = "once_daily"
	FreqTwiceDaily      FrequencyTag = "twice_daily"
	FreqThreeTimesDaily FrequencyTag = "three_times_daily"
	FreqFourTimesDaily  FrequencyTag = "four_times_daily"
	FreqMorning         FrequencyTag = "morning"
	FreqNight           FrequencyTag = "night"
	FreqAsNeeded        FrequencyTag = "as_needed"

	// FreqUnknown marks a frequency the parser could not resolve.  Records
	// carrying it cannot be compiled into a schedule.
	FreqUnknown FrequencyTag = "UNKNOWN"
)

// Known reports whether the tag is a resolvable member of the canonical
// vocabulary.
func (f FrequencyTag) Known() bool {
	switch f {
	case FreqOnceDaily, FreqTwiceDaily, FreqThreeTimesDaily,
		FreqFourTimesDaily, FreqMorning, FreqNight, FreqAsNeeded:
		return true
	}
	return false
}
