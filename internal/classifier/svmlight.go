package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseSVMLight reads a dataset in svmlight format: one sample per line,
// "label index:value index:value ...", 1-based indices, optional '#'
// comments. Training files for the per-word models ship in this format.
func ParseSVMLight(r io.Reader) ([][]float64, []int, error) {
	type sparseSample struct {
		label  int
		values map[int]float64
	}

	var (
		samples []sparseSample
		maxDim  int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		label, err := strconv.Atoi(strings.TrimSuffix(fields[0], ".0"))
		if err != nil {
			// Some exporters write float labels.
			f, ferr := strconv.ParseFloat(fields[0], 64)
			if ferr != nil {
				return nil, nil, fmt.Errorf("line %d: invalid label %q", lineNo, fields[0])
			}
			label = int(f)
		}

		values := make(map[int]float64, len(fields)-1)
		for _, f := range fields[1:] {
			idxVal := strings.SplitN(f, ":", 2)
			if len(idxVal) != 2 {
				return nil, nil, fmt.Errorf("line %d: invalid feature %q", lineNo, f)
			}

			idx, err := strconv.Atoi(idxVal[0])
			if err != nil || idx < 1 {
				return nil, nil, fmt.Errorf("line %d: invalid feature index %q", lineNo, idxVal[0])
			}

			val, err := strconv.ParseFloat(idxVal[1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: invalid feature value %q", lineNo, idxVal[1])
			}

			values[idx] = val
			if idx > maxDim {
				maxDim = idx
			}
		}

		samples = append(samples, sparseSample{label: label, values: values})
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("empty dataset")
	}

	features := make([][]float64, len(samples))
	labels := make([]int, len(samples))
	for i, s := range samples {
		vec := make([]float64, maxDim)
		for idx, val := range s.values {
			vec[idx-1] = val
		}
		features[i] = vec
		labels[i] = s.label
	}

	return features, labels, nil
}

// ParseSVMLightFile is ParseSVMLight over a file on disk.
func ParseSVMLightFile(path string) ([][]float64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	return ParseSVMLight(f)
}
