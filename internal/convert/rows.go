package convert

import (
	"fmt"
	"strconv"

	"movesense-agent/internal/sbem"
)

// Table is a decoded log in column-major-friendly form: a header row plus
// one string row per record.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Flatten turns decoded records into a single table. The column set is the
// union of columns needed by the record kinds actually present, in a fixed
// order; cells that do not apply to a row stay empty.
func Flatten(res *sbem.Result) Table {
	kinds := map[sbem.RecordKind]bool{}
	for _, rec := range res.Records {
		kinds[rec.Kind()] = true
	}

	cols := []string{"index", "group"}
	if kinds[sbem.KindMotion6] || kinds[sbem.KindECG] {
		cols = append(cols, "timestamp")
	}
	if kinds[sbem.KindMotion6] {
		for i := 0; i < 2; i++ {
			cols = append(cols,
				fmt.Sprintf("accel%d_x", i),
				fmt.Sprintf("accel%d_y", i),
				fmt.Sprintf("accel%d_z", i))
		}
		for i := 0; i < 2; i++ {
			cols = append(cols,
				fmt.Sprintf("gyro%d_x", i),
				fmt.Sprintf("gyro%d_y", i),
				fmt.Sprintf("gyro%d_z", i))
		}
	}
	if kinds[sbem.KindECG] {
		for i := 0; i < 16; i++ {
			cols = append(cols, fmt.Sprintf("sample_%02d", i))
		}
	}
	if kinds[sbem.KindHeartRate] {
		cols = append(cols, "average", "rr")
	}
	if kinds[sbem.KindFallback] {
		cols = append(cols, "chunk_id", "value")
	}

	colIndex := make(map[string]int, len(cols))
	for i, c := range cols {
		colIndex[c] = i
	}

	t := Table{Columns: cols}
	for i, rec := range res.Records {
		row := make([]string, len(cols))
		row[0] = strconv.Itoa(i)
		row[1] = string(rec.Kind())
		set := func(col, val string) { row[colIndex[col]] = val }

		switch r := rec.(type) {
		case sbem.Motion6:
			set("timestamp", strconv.FormatUint(uint64(r.Timestamp), 10))
			for j, v := range r.Accel {
				set(fmt.Sprintf("accel%d_x", j), formatFloat(v.X))
				set(fmt.Sprintf("accel%d_y", j), formatFloat(v.Y))
				set(fmt.Sprintf("accel%d_z", j), formatFloat(v.Z))
			}
			for j, v := range r.Gyro {
				set(fmt.Sprintf("gyro%d_x", j), formatFloat(v.X))
				set(fmt.Sprintf("gyro%d_y", j), formatFloat(v.Y))
				set(fmt.Sprintf("gyro%d_z", j), formatFloat(v.Z))
			}
		case sbem.ECG:
			set("timestamp", strconv.FormatUint(uint64(r.Timestamp), 10))
			for j, s := range r.Samples {
				set(fmt.Sprintf("sample_%02d", j), formatFloat(s))
			}
		case sbem.HeartRate:
			set("average", formatFloat(r.Average))
			set("rr", strconv.FormatUint(uint64(r.RRInterval), 10))
		case sbem.Fallback:
			set("chunk_id", strconv.FormatUint(uint64(r.ChunkID), 10))
			set("value", strconv.FormatUint(uint64(r.Value), 10))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
