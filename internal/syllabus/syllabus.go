// Package syllabus reads exam syllabus tables exported from spreadsheets.
package syllabus

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/pavelanni/studyledger/internal/ledger"
)

// ErrMissingColumn is returned when the header lacks a discipline or topic column.
var ErrMissingColumn = errors.New("missing column")

var (
	disciplineHeaders = []string{"disciplina", "discipline"}
	topicHeaders      = []string{"tópico do edital", "topico do edital", "tópico", "topico", "topic"}
)

// Read parses a delimited syllabus with a header row. Both ';' and ','
// separators are accepted. Input that is not UTF-8 is read as ISO-8859-1,
// the encoding spreadsheet exports usually produce. Rows missing either
// field are skipped.
func Read(r io.Reader) ([]ledger.SyllabusEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read syllabus: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode latin-1: %w", err)
		}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = separator(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("syllabus is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	di, ti := column(header, disciplineHeaders), column(header, topicHeaders)
	if di < 0 {
		return nil, fmt.Errorf("%w: discipline (Disciplina)", ErrMissingColumn)
	}
	if ti < 0 {
		return nil, fmt.Errorf("%w: topic (Tópico do Edital)", ErrMissingColumn)
	}

	var entries []ledger.SyllabusEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if max(di, ti) >= len(rec) {
			continue
		}
		d, t := strings.TrimSpace(rec[di]), strings.TrimSpace(rec[ti])
		if d == "" || t == "" {
			continue
		}
		entries = append(entries, ledger.SyllabusEntry{Discipline: d, Topic: t})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("syllabus has no topics")
	}
	return entries, nil
}

func separator(data []byte) rune {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(line, []byte(";")) >= bytes.Count(line, []byte(",")) && bytes.Contains(line, []byte(";")) {
		return ';'
	}
	return ','
}

func column(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}
