// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report collects one row of a markdown result table.
type Report struct {
	head   []string
	values []string
}

// Add appends a column.
func (r *Report) Add(head string, value interface{}) {
	r.head = append(r.head, head)
	r.values = append(r.values, fmt.Sprint(value))
}

// Write appends the row to the file at path. The header is written when the
// file is empty.
func (r *Report) Write(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(row(r.head))
		sep := make([]string, len(r.head))
		for i := range sep {
			sep[i] = "---"
		}
		b.WriteString(row(sep))
	}
	b.WriteString(row(r.values))
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func row(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |\n"
}

// Report returns the summary row of res.
func (res Result) Report(link string) *Report {
	r := &Report{}
	r.Add("Link", link)
	r.Add("Iterations", res.Iterations)
	r.Add("Errors", res.Errors)
	r.Add("Elapsed", res.Elapsed.Round(time.Millisecond))
	result := "OK"
	if res.Errors != 0 {
		result = fmt.Sprintf("%d ERRORS", res.Errors)
	}
	r.Add("Result", result)
	return r
}
