package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// EventRow is one scripted event. The meaning of P1..P4 depends on Event.
type EventRow struct {
	Line  int
	Time  time.Time
	Event string
	P1    string
	P2    string
	P3    string
	P4    string
}

// CSVEventsFeed reads a replay script.
//
// Expected columns:
//
//	time,event,p1,p2,p3,p4
//
// A header row is allowed, missing params are treated as empty and rows
// starting with # are comments.
type CSVEventsFeed struct {
	c    io.Closer
	r    *csv.Reader
	from time.Time
	to   time.Time

	sawFirst bool
}

func NewCSVEventsFeed(path string, from, to time.Time) (*CSVEventsFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewEventsReader(f, from, to)
	feed.c = f
	return feed, nil
}

// NewEventsReader reads a script from r. Zero from and to leave the range open.
func NewEventsReader(r io.Reader, from, to time.Time) *CSVEventsFeed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &CSVEventsFeed{r: cr, from: from, to: to}
}

func (f *CSVEventsFeed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Next returns the next row in range; ok is false at the end of the script.
func (f *CSVEventsFeed) Next() (EventRow, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return EventRow{}, false, nil
		}
		if err != nil {
			return EventRow{}, false, err
		}
		line, _ := f.r.FieldPos(0)

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) > 6 {
			return EventRow{}, false, fmt.Errorf("line %d: too many columns (expected <=6): %v", line, row)
		}

		t, err := parseTime(row[0])
		if err != nil {
			return EventRow{}, false, fmt.Errorf("line %d: %w", line, err)
		}
		if !inRange(t, f.from, f.to) {
			continue
		}

		ev := EventRow{Line: line, Time: t, Event: strings.ToUpper(strings.TrimSpace(row[1]))}
		params := []*string{&ev.P1, &ev.P2, &ev.P3, &ev.P4}
		for i, p := range row[2:] {
			*params[i] = strings.TrimSpace(p)
		}
		return ev, true, nil
	}
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	ts := strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", ts, err)
		}
		t = t2
	}
	return t, nil
}
