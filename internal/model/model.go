package model

import "time"

// Capture is one row of the capture history.
type Capture struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Kind             string        `json:"kind"` // picture | spectra | none
	Path             string        `json:"path"`
	Entrance         string        `json:"entrance"`
	Radiometer       string        `json:"radiometer"`
	ITVNIR           int           `json:"it_vnir"`
	ITSWIR           int           `json:"it_swir"`
	ObservedITVNIR   int           `json:"observed_it_vnir"`
	ObservedITSWIR   int           `json:"observed_it_swir"`
	Count            int           `json:"count"`
	Spectra          int           `json:"spectra"`
	Bytes            int           `json:"bytes"`
	Outcome          string        `json:"outcome"`
	Error            string        `json:"error,omitempty"`
	InstrumentSerial uint32        `json:"instrument_sn"`
	VNIRSerial       uint32        `json:"vnir_sn"`
	SWIRSerial       uint32        `json:"swir_sn"`
}

func (Capture) TableName() string { return "captures" }
