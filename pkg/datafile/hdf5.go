package datafile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmbenlloch/go-hdf5"
	"github.com/next-exp/sipm_daq/pkg/caen"
)

type EventDataHDF5 struct {
	evt_number int32
	timestamp  uint64
}

type RunInfoHDF5 struct {
	sample_rate   float64
	record_length int32
	post_trigger  int32
	channel_mask  uint64
}

type ChannelConfigHDF5 struct {
	channel   int32
	dc_offset int32
	threshold int32
}

var unlimited = -1 // H5S_UNLIMITED is -1L

// HDF5Sink writes runs as HDF5: Run/events and Run/runInfo tables,
// Sensors/DataSiPM with the channel settings and the RD/sipmrwf array of
// event x channel x sample.
type HDF5Sink struct {
	Compression uint

	file          *hdf5.File
	runGroup      *hdf5.Group
	rdGroup       *hdf5.Group
	sensorsGroup  *hdf5.Group
	eventTable    *hdf5.Dataset
	runInfoTable  *hdf5.Dataset
	channelsTable *hdf5.Dataset
	waveforms     *hdf5.Dataset

	channels []int
	nSamples int
	events   []EventDataHDF5
	samples  []int16
}

func NewHDF5Sink(compression uint) *HDF5Sink {
	return &HDF5Sink{Compression: compression}
}

func (s *HDF5Sink) Extension() string {
	return ".h5"
}

func (s *HDF5Sink) IsOpen() bool {
	return s.file != nil
}

func (s *HDF5Sink) Open(path string, port *caen.Port) error {
	if s.file != nil {
		return &ErrOpenFile{Filename: path, Err: errors.New("another file is open")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ErrOpenFile{Filename: path, Err: err}
	}
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return &ErrOpenFile{Filename: path, Err: err}
	}
	s.file = f
	s.channels = s.channels[:0]
	for _, ch := range port.ChannelConfigs {
		s.channels = append(s.channels, int(ch.Channel))
	}
	s.nSamples = int(port.GlobalConfig.RecordLength)
	s.events = s.events[:0]
	s.samples = s.samples[:0]

	if err := s.layout(port); err != nil {
		return errors.Join(err, s.Close())
	}
	return nil
}

func (s *HDF5Sink) layout(port *caen.Port) error {
	var err error
	if s.runGroup, err = createGroup(s.file, "Run"); err != nil {
		return err
	}
	if s.rdGroup, err = createGroup(s.file, "RD"); err != nil {
		return err
	}
	if s.sensorsGroup, err = createGroup(s.file, "Sensors"); err != nil {
		return err
	}
	if s.eventTable, err = createTable(s.runGroup, "events", EventDataHDF5{}, s.Compression); err != nil {
		return err
	}
	if s.runInfoTable, err = createTable(s.runGroup, "runInfo", RunInfoHDF5{}, s.Compression); err != nil {
		return err
	}
	if s.channelsTable, err = createTable(s.sensorsGroup, "DataSiPM", ChannelConfigHDF5{}, s.Compression); err != nil {
		return err
	}
	if s.waveforms, err = createWaveformsArray(s.rdGroup, "sipmrwf", len(s.channels), s.nSamples, s.Compression); err != nil {
		return err
	}

	info := []RunInfoHDF5{{
		sample_rate:   port.SampleRate(),
		record_length: int32(port.GlobalConfig.RecordLength),
		post_trigger:  int32(port.GlobalConfig.PostTrigger),
		channel_mask:  port.ChannelMask(),
	}}
	if err := writeArrayToTable(s.runInfoTable, &info); err != nil {
		return err
	}
	channels := make([]ChannelConfigHDF5, len(port.ChannelConfigs))
	for i, ch := range port.ChannelConfigs {
		channels[i] = ChannelConfigHDF5{
			channel:   int32(ch.Channel),
			dc_offset: int32(ch.DCOffset),
			threshold: int32(ch.TriggerThreshold),
		}
	}
	return writeArrayToTable(s.channelsTable, &channels)
}

// Add copies the event into the pending batch.
func (s *HDF5Sink) Add(evt *caen.Event) error {
	if s.file == nil {
		return ErrNotOpen
	}
	s.events = append(s.events, EventDataHDF5{
		evt_number: int32(evt.Info.EventCounter),
		timestamp:  uint64(evt.Info.TriggerTimeTag),
	})
	for _, ch := range s.channels {
		wf := evt.Waveform(ch)
		for i := 0; i < s.nSamples; i++ {
			var v int16
			if i < len(wf) {
				v = int16(wf[i])
			}
			s.samples = append(s.samples, v)
		}
	}
	return nil
}

// Save appends the pending batch to the event table and waveform array.
func (s *HDF5Sink) Save() error {
	if s.file == nil {
		return ErrNotOpen
	}
	if len(s.events) == 0 {
		return nil
	}
	if err := writeArrayToTable(s.eventTable, &s.events); err != nil {
		return err
	}
	if err := writeWaveforms(s.waveforms, &s.samples, uint(len(s.events))); err != nil {
		return err
	}
	s.events = s.events[:0]
	s.samples = s.samples[:0]
	return nil
}

func (s *HDF5Sink) Close() error {
	if s.file == nil {
		return nil
	}
	var errs []error
	for _, d := range []*hdf5.Dataset{s.eventTable, s.runInfoTable, s.channelsTable, s.waveforms} {
		if d != nil {
			errs = append(errs, d.Close())
		}
	}
	for _, g := range []*hdf5.Group{s.runGroup, s.rdGroup, s.sensorsGroup} {
		if g != nil {
			errs = append(errs, g.Close())
		}
	}
	errs = append(errs, s.file.Close())
	s.file = nil
	s.eventTable, s.runInfoTable, s.channelsTable, s.waveforms = nil, nil, nil, nil
	s.runGroup, s.rdGroup, s.sensorsGroup = nil, nil, nil
	return errors.Join(errs...)
}

func createGroup(file *hdf5.File, groupName string) (*hdf5.Group, error) {
	g, err := file.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

func createWaveformsArray(group *hdf5.Group, name string, nSensors int, nSamples int, compression uint) (*hdf5.Dataset, error) {
	dims := []uint{0, uint(nSensors), uint(nSamples)}
	maxDims := []uint{uint(unlimited), uint(nSensors), uint(nSamples)}
	chunks := []uint{1, uint(nSensors), uint(nSamples)}
	return createDataset(group, name, hdf5.T_NATIVE_INT16, dims, maxDims, chunks, compression)
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compression uint) (*hdf5.Dataset, error) {
	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return createDataset(group, name, dtype, []uint{0}, []uint{uint(unlimited)}, []uint{32768}, compression)
}

func createDataset(group *hdf5.Group, name string, dtype *hdf5.Datatype, dims, maxDims, chunks []uint, compression uint) (*hdf5.Dataset, error) {
	space, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer space.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()
	if err := plist.SetChunk(chunks); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if compression > 0 {
		if err := plist.SetDeflate(int(compression)); err != nil {
			return nil, &ErrCreateTable{TableName: name, Err: err}
		}
	}

	dset, err := group.CreateDatasetWith(name, dtype, space, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T) error {
	length := uint(len(*data))
	space := dataset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return err
	}
	rows := dims[0]
	if err := dataset.Resize([]uint{rows + length}); err != nil {
		return err
	}
	return writeSlab(dataset, data, []uint{rows}, []uint{length})
}

// writeWaveforms appends n events of channel x sample data.
func writeWaveforms(dataset *hdf5.Dataset, data *[]int16, n uint) error {
	space := dataset.Space()
	defer space.Close()
	dims, maxDims, err := space.SimpleExtentDims()
	if err != nil {
		return err
	}
	rows, nSensors, nSamples := dims[0], maxDims[1], maxDims[2]
	if want := n * nSensors * nSamples; uint(len(*data)) != want {
		return fmt.Errorf("waveform batch has %d samples, expected %d", len(*data), want)
	}
	if err := dataset.Resize([]uint{rows + n, nSensors, nSamples}); err != nil {
		return err
	}
	return writeSlab(dataset, data, []uint{rows, 0, 0}, []uint{n, nSensors, nSamples})
}

func writeSlab(dataset *hdf5.Dataset, data interface{}, start, count []uint) error {
	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return err
	}
	defer memspace.Close()

	filespace := dataset.Space()
	defer filespace.Close()
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return err
	}
	return dataset.WriteSubset(data, memspace, filespace)
}
