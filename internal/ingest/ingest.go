// Package ingest loads the archival segment export and human validation
// responses into the corpus store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/nonews-project/nonews/internal/database"
)

// Result holds the results of an ingestion run.
type Result struct {
	TotalRows  int
	Inserted   int
	Duplicates int
	BadRows    int
}

var segmentColumns = []string{
	"id", "outlet", "program", "date", "duration", "reporter",
	"title", "abstract", "commercial", "empty", "in_news",
}

// Segments reads the archival CSV export and inserts every row. Rows whose
// id already exists are counted as duplicates and skipped; malformed rows
// are logged and skipped.
func Segments(db *database.DB, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols, err := columnIndex(header, segmentColumns)
	if err != nil {
		return nil, err
	}

	r := &Result{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				r.TotalRows++
				r.BadRows++
				continue
			}
			return nil, fmt.Errorf("reading row %d: %w", r.TotalRows+2, err)
		}
		r.TotalRows++

		seg, err := parseSegment(row, cols)
		if err != nil {
			log.Printf("Skipping row %d: %v", r.TotalRows+1, err)
			r.BadRows++
			continue
		}

		inserted, err := db.InsertSegment(seg)
		if err != nil {
			log.Printf("Skipping segment %d: %v", seg.ID, err)
			r.BadRows++
			continue
		}
		if inserted {
			r.Inserted++
		} else {
			r.Duplicates++
		}
	}

	log.Printf("Ingested %s: %d rows, %d inserted, %d duplicates, %d bad",
		path, r.TotalRows, r.Inserted, r.Duplicates, r.BadRows)
	return r, nil
}

func parseSegment(row []string, cols map[string]int) (*database.Segment, error) {
	get := func(name string) string { return strings.TrimSpace(row[cols[name]]) }

	id, err := strconv.ParseInt(get("id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad id %q", get("id"))
	}
	duration, err := strconv.ParseInt(get("duration"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad duration %q for id %d", get("duration"), id)
	}

	seg := &database.Segment{
		ID:       id,
		Outlet:   get("outlet"),
		Program:  get("program"),
		Date:     get("date"),
		Duration: duration,
		Reporter: get("reporter"),
		Title:    get("title"),
		Abstract: get("abstract"),
	}
	for name, dst := range map[string]*bool{
		"commercial": &seg.Commercial,
		"empty":      &seg.Empty,
		"in_news":    &seg.InNews,
	} {
		v, err := parseBool(get(name))
		if err != nil {
			return nil, fmt.Errorf("bad %s %q for id %d", name, get(name), id)
		}
		*dst = v
	}
	return seg, nil
}

var responseColumns = []string{"segment_id", "rater", "aspect", "value"}

var validAspects = map[database.Aspect]bool{
	database.AspectNewsType:       true,
	database.AspectTopicPrimary:   true,
	database.AspectTopicSecondary: true,
	database.AspectIssuePrimary:   true,
	database.AspectIssueSecondary: true,
}

// Responses reads a long-format CSV of human validation responses, one row
// per (segment, rater, aspect) answer.
func Responses(db *database.DB, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols, err := columnIndex(header, responseColumns)
	if err != nil {
		return nil, err
	}

	r := &Result{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				r.TotalRows++
				r.BadRows++
				continue
			}
			return nil, fmt.Errorf("reading row %d: %w", r.TotalRows+2, err)
		}
		r.TotalRows++

		get := func(name string) string { return strings.TrimSpace(row[cols[name]]) }
		segmentID, err := strconv.ParseInt(get("segment_id"), 10, 64)
		if err != nil {
			log.Printf("Skipping row %d: bad segment_id %q", r.TotalRows+1, get("segment_id"))
			r.BadRows++
			continue
		}
		value, err := strconv.ParseInt(get("value"), 10, 64)
		if err != nil {
			log.Printf("Skipping row %d: bad value %q", r.TotalRows+1, get("value"))
			r.BadRows++
			continue
		}
		aspect := database.Aspect(get("aspect"))
		if !validAspects[aspect] {
			log.Printf("Skipping row %d: unknown aspect %q", r.TotalRows+1, aspect)
			r.BadRows++
			continue
		}

		if _, err := db.InsertResponse(segmentID, get("rater"), aspect, value); err != nil {
			log.Printf("Skipping response for segment %d: %v", segmentID, err)
			r.BadRows++
			continue
		}
		r.Inserted++
	}

	log.Printf("Ingested %s: %d rows, %d inserted, %d bad",
		path, r.TotalRows, r.Inserted, r.BadRows)
	return r, nil
}

func columnIndex(header, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return cols, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes":
		return true, nil
	case "0", "false", "f", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}
