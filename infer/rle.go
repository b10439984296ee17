package infer

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/sugarme/iseg3d/volume"
)

// RLERow is the run-length encoding of one class mask of one subject.
type RLERow struct {
	ID       string `dataframe:"id"`
	Class    int    `dataframe:"class"`
	Encoding string `dataframe:"encoding"`
}

// EncodeRLE returns the runs of true values in mask as (start, length)
// pairs. Starts are 1-based offsets into the flattened volume.
func EncodeRLE(mask []bool) []int {
	var rle []int
	start := -1
	for i, m := range mask {
		switch {
		case m && start < 0:
			start = i
		case !m && start >= 0:
			rle = append(rle, start+1, i-start)
			start = -1
		}
	}
	if start >= 0 {
		rle = append(rle, start+1, len(mask)-start)
	}
	return rle
}

// DecodeRLE converts run-length encoding back to a mask of n values.
func DecodeRLE(rle []int, n int) ([]bool, error) {
	if len(rle)%2 != 0 {
		return nil, fmt.Errorf("odd run-length encoding of %d values", len(rle))
	}
	mask := make([]bool, n)
	for i := 0; i < len(rle); i += 2 {
		start, length := rle[i]-1, rle[i+1]
		if start < 0 || length < 0 || start+length > n {
			return nil, fmt.Errorf("run (%d, %d) out of range for %d voxels", rle[i], length, n)
		}
		for j := start; j < start+length; j++ {
			mask[j] = true
		}
	}
	return mask, nil
}

// LabelRows encodes the mask of every non-background class of a label
// volume.
func LabelRows(id string, label *volume.Volume, classes int) []RLERow {
	rows := make([]RLERow, 0, classes-1)
	mask := make([]bool, len(label.Data))
	for c := 1; c < classes; c++ {
		for i, v := range label.Data {
			mask[i] = int(v) == c
		}
		rows = append(rows, RLERow{ID: id, Class: c, Encoding: formatRLE(EncodeRLE(mask))})
	}
	return rows
}

func formatRLE(rle []int) string {
	parts := make([]string, len(rle))
	for i, v := range rle {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func parseRLE(s string) ([]int, error) {
	fields := strings.Fields(s)
	rle := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		rle[i] = n
	}
	return rle, nil
}

// WriteRLE writes rows as CSV with columns id, class and encoding.
func WriteRLE(path string, rows []RLERow) error {
	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return df.Err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadRLE reads a CSV written by WriteRLE and returns the runs keyed by
// subject id then class.
func ReadRLE(path string) (map[string]map[int][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.WithTypes(map[string]series.Type{
			"id":       series.String,
			"class":    series.Int,
			"encoding": series.String,
		}))
	if df.Err != nil {
		return nil, df.Err
	}

	ids := df.Col("id").Records()
	classes, err := df.Col("class").Int()
	if err != nil {
		return nil, err
	}
	encodings := df.Col("encoding").Records()

	out := make(map[string]map[int][]int)
	for i, id := range ids {
		rle, err := parseRLE(encodings[i])
		if err != nil {
			return nil, fmt.Errorf("subject %s class %d: %w", id, classes[i], err)
		}
		if out[id] == nil {
			out[id] = make(map[int][]int)
		}
		out[id][classes[i]] = rle
	}
	return out, nil
}
