package caen

import "fmt"

// ErrorCode is a CAEN digitizer library result code. Zero is success,
// every failure is negative.
type ErrorCode int

const (
	Success                  ErrorCode = 0
	CommError                ErrorCode = -1
	GenericError             ErrorCode = -2
	InvalidParam             ErrorCode = -3
	InvalidLinkType          ErrorCode = -4
	InvalidHandle            ErrorCode = -5
	MaxDevicesError          ErrorCode = -6
	BadBoardType             ErrorCode = -7
	BadInterruptLev          ErrorCode = -8
	BadEventNumber           ErrorCode = -9
	ReadDeviceRegisterFail   ErrorCode = -10
	WriteDeviceRegisterFail  ErrorCode = -11
	InvalidChannelNumber     ErrorCode = -13
	ChannelBusy              ErrorCode = -14
	FPIOModeInvalid          ErrorCode = -15
	WrongAcqMode             ErrorCode = -16
	FunctionNotAllowed       ErrorCode = -17
	Timeout                  ErrorCode = -18
	InvalidBuffer            ErrorCode = -19
	EventNotFound            ErrorCode = -20
	InvalidEvent             ErrorCode = -21
	OutOfMemory              ErrorCode = -22
	CalibrationError         ErrorCode = -23
	DigitizerNotFound        ErrorCode = -24
	DigitizerAlreadyOpen     ErrorCode = -25
	DigitizerNotReady        ErrorCode = -26
	InterruptNotConfigured   ErrorCode = -27
	DigitizerMemoryCorrupted ErrorCode = -28
	DPPFirmwareNotSupported  ErrorCode = -29
	InvalidLicense           ErrorCode = -30
	InvalidDigitizerStatus   ErrorCode = -31
	UnsupportedTrace         ErrorCode = -32
	InvalidProbe             ErrorCode = -33
	UnsupportedBaseAddress   ErrorCode = -34
	NotYetImplemented        ErrorCode = -99
)

var errorMessages = map[ErrorCode]string{
	Success:                  "Operation completed successfully",
	CommError:                "Communication error",
	GenericError:             "Unspecified error",
	InvalidParam:             "Invalid parameter",
	InvalidLinkType:          "Invalid Link Type",
	InvalidHandle:            "Invalid device handle",
	MaxDevicesError:          "Maximum number of devices exceeded",
	BadBoardType:             "The operation is not allowed on this type of board",
	BadInterruptLev:          "The interrupt level is not allowed",
	BadEventNumber:           "The event number is bad",
	ReadDeviceRegisterFail:   "Unable to read the registry",
	WriteDeviceRegisterFail:  "Unable to write into the registry",
	InvalidChannelNumber:     "The channel number is invalid",
	ChannelBusy:              "The channel is busy",
	FPIOModeInvalid:          "Invalid FPIO mode",
	WrongAcqMode:             "Wrong acquisition mode",
	FunctionNotAllowed:       "This function is not allowed for this module",
	Timeout:                  "Communication timeout",
	InvalidBuffer:            "The buffer is invalid",
	EventNotFound:            "The event is not found",
	InvalidEvent:             "The event is invalid",
	OutOfMemory:              "Out of memory",
	CalibrationError:         "Unable to calibrate the board",
	DigitizerNotFound:        "Unable to open the digitizer",
	DigitizerAlreadyOpen:     "The digitizer is already open",
	DigitizerNotReady:        "The digitizer is not ready to operate",
	InterruptNotConfigured:   "The digitizer has not the IRQ configured",
	DigitizerMemoryCorrupted: "The digitizer flash memory is corrupted",
	DPPFirmwareNotSupported:  "The digitizer DPP firmware is not supported in this lib version",
	InvalidLicense:           "Invalid firmware license",
	InvalidDigitizerStatus:   "The digitizer is found in a corrupted status",
	UnsupportedTrace:         "The given trace is not supported by the digitizer",
	InvalidProbe:             "The given probe is not supported for the given trace",
	UnsupportedBaseAddress:   "The base address is not supported",
	NotYetImplemented:        "The function is not yet implemented",
}

func (e ErrorCode) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return fmt.Sprintf("CAEN error %d: %s", int(e), msg)
	}
	return fmt.Sprintf("CAEN error %d: unknown error code", int(e))
}

// Failed reports whether the code is a failure.
func (e ErrorCode) Failed() bool {
	return e < Success
}

// CheckError maps a failing result to a diagnostic message and hands it to
// report. It returns true when err is a failure. Success is silent.
func CheckError(err error, report func(string)) bool {
	if err == nil {
		return false
	}
	if code, ok := err.(ErrorCode); ok && !code.Failed() {
		return false
	}
	if report != nil {
		report(err.Error())
	}
	return true
}
