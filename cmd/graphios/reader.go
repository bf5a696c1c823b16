package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/graphios/graphios"
)

const maxRecordSize = 1024 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// readInputs reads metric records from every path in order. An empty list or "-" reads stdin.
func readInputs(paths []string, stdin io.Reader) ([]*graphios.Metric, error) {
	if len(paths) == 0 {
		return readMetrics(stdin, "stdin")
	}
	var metrics []*graphios.Metric
	for _, path := range paths {
		var (
			ms  []*graphios.Metric
			err error
		)
		if path == "-" {
			ms, err = readMetrics(stdin, "stdin")
		} else {
			ms, err = readFile(path)
		}
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, ms...)
	}
	return metrics, nil
}

func readFile(path string) ([]*graphios.Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readMetrics(f, path)
}

// readMetrics decodes one JSON metric record per line. Blank lines are skipped.
func readMetrics(r io.Reader, name string) ([]*graphios.Metric, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	var metrics []*graphios.Metric
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		m := &graphios.Metric{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("%s:%d: %v", name, line, err)
		}
		metrics = append(metrics, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	return metrics, nil
}
