package caption

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pbaille/taxo/internal/embedding"
)

// Record is one line of a captions file.
type Record struct {
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

// FileCaptioner serves precomputed captions.
type FileCaptioner struct {
	captions map[string]string
}

// LoadFile reads a JSONL captions file.
func LoadFile(path string) (*FileCaptioner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open captions: %w", err)
	}
	defer f.Close()
	return ReadFile(f)
}

// ReadFile parses JSONL caption records from r.
func ReadFile(r io.Reader) (*FileCaptioner, error) {
	records, err := ReadRecords(r)
	if err != nil {
		return nil, err
	}
	fc := &FileCaptioner{captions: make(map[string]string, len(records))}
	for _, rec := range records {
		fc.captions[embedding.SubjectOf(rec.Filename)] = rec.Caption
	}
	return fc, nil
}

// ReadRecords parses JSONL caption records in file order.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("parse captions line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}
	return records, nil
}

// Captions returns the cleaned caption of each subject. Subjects without
// a caption get "".
func (fc *FileCaptioner) Captions(ctx context.Context, subjects []string) ([]string, error) {
	out := make([]string, len(subjects))
	for i, s := range subjects {
		if raw, ok := fc.captions[s]; ok && s != "" {
			out[i] = Clean(raw)
		}
	}
	return out, nil
}
