// Package embedding loads, computes and clusters subject embeddings.
package embedding

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is one line of an embeddings file.
type Record struct {
	Filename  string    `json:"filename"`
	Embedding []float64 `json:"embedding"`
}

// SubjectOf returns the subject id a file name refers to: everything
// before the first dot.
func SubjectOf(filename string) string {
	subject, _, _ := strings.Cut(filename, ".")
	return subject
}

// Table maps subjects to their embedding.
type Table map[string][]float64

// Load reads a JSONL embeddings file.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open embeddings: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses JSONL embedding records from r.
func Read(r io.Reader) (Table, error) {
	t := Table{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("parse embeddings line %d: %w", line, err)
		}
		t[SubjectOf(rec.Filename)] = rec.Embedding
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read embeddings: %w", err)
	}
	return t, nil
}

// Write emits records as JSONL.
func Write(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write embedding %q: %w", rec.Filename, err)
		}
	}
	return nil
}

// Vectors returns the embeddings of subjects, in order.
func (t Table) Vectors(subjects []string) ([][]float64, error) {
	out := make([][]float64, len(subjects))
	for i, s := range subjects {
		v, ok := t[s]
		if !ok {
			return nil, fmt.Errorf("no embedding for subject %q", s)
		}
		out[i] = v
	}
	return out, nil
}
