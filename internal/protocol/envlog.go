package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const envLogSize = 16

// EnvLog is the latest environmental record kept by the instrument.
type EnvLog struct {
	TimestampMs   uint32
	TempCenti     int16  // internal temperature, 0.01 degC
	HumidityCenti uint16 // relative humidity, 0.01 %
	PressurePa    uint32
	VoltageMV     uint16
	CurrentMA     uint16
}

// CSVLine renders the record in fixed field order:
// timestamp_ms,temperature_c,humidity_pct,pressure_hpa,voltage_v,current_a
func (e EnvLog) CSVLine() string {
	return fmt.Sprintf("%d,%.2f,%.2f,%.2f,%.3f,%.3f",
		e.TimestampMs,
		float64(e.TempCenti)/100,
		float64(e.HumidityCenti)/100,
		float64(e.PressurePa)/100,
		float64(e.VoltageMV)/1000,
		float64(e.CurrentMA)/1000,
	)
}

func (e EnvLog) MarshalBinary() ([]byte, error) {
	b := make([]byte, envLogSize)
	binary.LittleEndian.PutUint32(b[0:4], e.TimestampMs)
	binary.LittleEndian.PutUint16(b[4:6], uint16(e.TempCenti))
	binary.LittleEndian.PutUint16(b[6:8], e.HumidityCenti)
	binary.LittleEndian.PutUint32(b[8:12], e.PressurePa)
	binary.LittleEndian.PutUint16(b[12:14], e.VoltageMV)
	binary.LittleEndian.PutUint16(b[14:16], e.CurrentMA)
	return b, nil
}

func (e *EnvLog) UnmarshalBinary(b []byte) error {
	if len(b) < envLogSize {
		return errors.Wrapf(ErrShortFrame, "env log: %d bytes", len(b))
	}
	e.TimestampMs = binary.LittleEndian.Uint32(b[0:4])
	e.TempCenti = int16(binary.LittleEndian.Uint16(b[4:6]))
	e.HumidityCenti = binary.LittleEndian.Uint16(b[6:8])
	e.PressurePa = binary.LittleEndian.Uint32(b[8:12])
	e.VoltageMV = binary.LittleEndian.Uint16(b[12:14])
	e.CurrentMA = binary.LittleEndian.Uint16(b[14:16])
	return nil
}
