package caen

// GlobalConfig holds the board wide acquisition parameters applied by Setup.
type GlobalConfig struct {
	RecordLength     uint32 `json:"record_length" yaml:"record_length" validate:"gt=0"`
	PostTrigger      uint32 `json:"post_trigger" yaml:"post_trigger" validate:"lte=100"`
	MaxEventsPerRead uint32 `json:"max_events_per_read" yaml:"max_events_per_read" validate:"gt=0,lte=1024"`
	TriggerMode      string `json:"trigger_mode" yaml:"trigger_mode" validate:"oneof=disabled acq_only ext_only acq_and_ext"`
	IOLevel          string `json:"io_level" yaml:"io_level" validate:"oneof=nim ttl"`
}

// ChannelConfig holds the per channel parameters applied by Setup.
type ChannelConfig struct {
	Channel          uint8  `json:"channel" yaml:"channel"`
	DCOffset         uint16 `json:"dc_offset" yaml:"dc_offset"`
	TriggerThreshold uint16 `json:"trigger_threshold" yaml:"trigger_threshold"`
	Polarity         string `json:"polarity" yaml:"polarity" validate:"oneof=rising falling"`
}

// DefaultGlobalConfig matches the settings used for SiPM characterization runs.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		RecordLength:     2000,
		PostTrigger:      60,
		MaxEventsPerRead: 1024,
		TriggerMode:      "acq_only",
		IOLevel:          "nim",
	}
}

func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Channel:          0,
		DCOffset:         0x8000,
		TriggerThreshold: 1100,
		Polarity:         "rising",
	}
}

// ChannelMask returns the enable mask for the given channels.
func ChannelMask(channels []ChannelConfig) uint64 {
	var mask uint64
	for _, ch := range channels {
		if ch.Channel < 64 {
			mask |= 1 << ch.Channel
		}
	}
	return mask
}
