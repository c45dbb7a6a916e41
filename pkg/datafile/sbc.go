package datafile

import (
	"fmt"
	"io"
	"strconv"

	"github.com/next-exp/sipm_daq/pkg/caen"
)

type sbcRecord struct {
	counter uint32
	timeTag uint32
	samples [][]uint16
}

// SBCSink writes runs as plain text: a '#' header describing the board
// setup followed by one line per event with the event counter, the trigger
// time tag and the samples of every configured channel.
type SBCSink struct {
	file     DataFile[sbcRecord]
	channels []int
	line     []byte
}

func NewSBCSink() *SBCSink {
	return &SBCSink{}
}

func (s *SBCSink) Extension() string {
	return ".txt"
}

func (s *SBCSink) Open(path string, port *caen.Port) error {
	s.channels = s.channels[:0]
	for _, ch := range port.ChannelConfigs {
		s.channels = append(s.channels, int(ch.Channel))
	}
	return s.file.Open(path, func(w io.Writer) error {
		return writeSBCHeader(w, port)
	})
}

func writeSBCHeader(w io.Writer, port *caen.Port) error {
	thresholds := make([]byte, 0, 8*len(port.ChannelConfigs))
	for i, ch := range port.ChannelConfigs {
		if i > 0 {
			thresholds = append(thresholds, ' ')
		}
		thresholds = strconv.AppendUint(thresholds, uint64(ch.TriggerThreshold), 10)
	}
	_, err := fmt.Fprintf(w,
		"# model %v\n# sample_rate %.0f\n# record_length %d\n# post_trigger %d\n# channel_mask 0x%x\n# thresholds %s\n",
		port.Model, port.SampleRate(), port.GlobalConfig.RecordLength,
		port.GlobalConfig.PostTrigger, port.ChannelMask(), thresholds)
	return err
}

func (s *SBCSink) IsOpen() bool {
	return s.file.IsOpen()
}

// Add copies the event; evt may be reused as soon as Add returns.
func (s *SBCSink) Add(evt *caen.Event) error {
	if !s.file.IsOpen() {
		return ErrNotOpen
	}
	rec := s.file.Next()
	rec.counter = evt.Info.EventCounter
	rec.timeTag = evt.Info.TriggerTimeTag
	if cap(rec.samples) < len(s.channels) {
		rec.samples = make([][]uint16, len(s.channels))
	}
	rec.samples = rec.samples[:len(s.channels)]
	for i, ch := range s.channels {
		rec.samples[i] = append(rec.samples[i][:0], evt.Waveform(ch)...)
	}
	return nil
}

func (s *SBCSink) Save() error {
	return s.file.Save(s.writeRecord)
}

func (s *SBCSink) writeRecord(w io.Writer, rec *sbcRecord) error {
	line := strconv.AppendUint(s.line[:0], uint64(rec.counter), 10)
	line = append(line, ' ')
	line = strconv.AppendUint(line, uint64(rec.timeTag), 10)
	for _, samples := range rec.samples {
		for _, v := range samples {
			line = append(line, ' ')
			line = strconv.AppendUint(line, uint64(v), 10)
		}
	}
	line = append(line, '\n')
	s.line = line
	_, err := w.Write(line)
	return err
}

func (s *SBCSink) Close() error {
	return s.file.Close()
}
