package activity

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"backend-stridetrack/internal/shared/geo"

	"github.com/tormoder/fit"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// trackPoint is one path point with its estimated time and cumulative distance.
// Stored paths carry no timestamps, so times are spread evenly between start
// and end.
type trackPoint struct {
	geo.Coordinate
	At        time.Time
	DistanceM float64
}

func track(a Activity) []trackPoint {
	points := make([]trackPoint, len(a.Path))
	span := a.EndTime.Sub(a.StartTime)
	var dist float64
	for i, c := range a.Path {
		if i > 0 {
			dist += geo.Distance(a.Path[i-1], c)
		}
		at := a.StartTime
		if len(a.Path) > 1 {
			at = a.StartTime.Add(time.Duration(float64(span) * float64(i) / float64(len(a.Path)-1)))
		}
		points[i] = trackPoint{Coordinate: c, At: at, DistanceM: dist}
	}
	return points
}

// EncodeFIT writes the activity as a FIT activity file.
func EncodeFIT(a Activity) ([]byte, error) {
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		return nil, fmt.Errorf("new fit file: %w", err)
	}
	act, err := file.Activity()
	if err != nil {
		return nil, fmt.Errorf("fit activity: %w", err)
	}

	start := fit.NewEventMsg()
	start.Timestamp = a.StartTime
	start.Event = fit.EventTimer
	start.EventType = fit.EventTypeStart
	act.Events = append(act.Events, start)

	for _, p := range track(a) {
		rec := fit.NewRecordMsg()
		rec.Timestamp = p.At
		rec.PositionLat = fit.NewLatitudeDegrees(p.Lat)
		rec.PositionLong = fit.NewLongitudeDegrees(p.Lng)
		rec.Distance = uint32(p.DistanceM * 100)
		act.Records = append(act.Records, rec)
	}

	stop := fit.NewEventMsg()
	stop.Timestamp = a.EndTime
	stop.Event = fit.EventTimer
	stop.EventType = fit.EventTypeStop
	act.Events = append(act.Events, stop)

	session := fit.NewSessionMsg()
	session.Timestamp = a.EndTime
	session.StartTime = a.StartTime
	session.Sport = fit.SportRunning
	session.TotalElapsedTime = uint32(a.Duration * 1000)
	session.TotalTimerTime = uint32(a.Duration * 1000)
	session.TotalDistance = uint32(a.Distance * 100)
	session.TotalCalories = uint16(a.Calories)
	act.Sessions = append(act.Sessions, session)

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode fit: %w", err)
	}
	return buf.Bytes(), nil
}

type pointRow struct {
	Index     int64   `parquet:"name=index, type=INT64"`
	TSUTCISO  string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8"`
	ElapsedS  float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	Lat       float64 `parquet:"name=lat, type=DOUBLE"`
	Lng       float64 `parquet:"name=lng, type=DOUBLE"`
	DistanceM float64 `parquet:"name=distance_m, type=DOUBLE"`
}

// EncodeParquet writes one row per path point.
func EncodeParquet(a Activity) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(pointRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, p := range track(a) {
		row := pointRow{
			Index:     int64(i),
			TSUTCISO:  p.At.UTC().Format(time.RFC3339),
			ElapsedS:  p.At.Sub(a.StartTime).Seconds(),
			Lat:       p.Lat,
			Lng:       p.Lng,
			DistanceM: p.DistanceM,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
