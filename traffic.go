package eonclos

// traffic.go holds the connection request record and the reader and writer of the
// text traffic format.  One request per line:
//
//	<index>: <src> <dst> <width> <arrival> <holding>
//	<index>: <src> <dst> <width> <slot_hint> <arrival> <holding>
//
// The slot hint of the second form is carried along but never used to place a
// connection; the admission engine computes its own first-fit start.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// NoSlotHint is the SlotHint of a record that did not carry one
const NoSlotHint = -1

// Request is one timed connection request
type Request struct {
	ID       int `json:"id" yaml:"id"`
	Src      int `json:"src" yaml:"src"`
	Dst      int `json:"dst" yaml:"dst"`
	Width    int `json:"width" yaml:"width"`
	Arrival  int `json:"arrival" yaml:"arrival"`
	Holding  int `json:"holding" yaml:"holding"`
	SlotHint int `json:"slothint" yaml:"slothint"`
}

// CreateRequest is a constructor for a request without a slot hint
func CreateRequest(id, src, dst, width, arrival, holding int) Request {
	return Request{ID: id, Src: src, Dst: dst, Width: width, Arrival: arrival,
		Holding: holding, SlotHint: NoSlotHint}
}

// Expiry is the tick at which an admitted request releases its spectrum
func (req Request) Expiry() int {
	return req.Arrival + req.Holding
}

// MaxTime returns the last tick a run over reqs visits: the latest expiry, or
// the latest arrival if some request with a non-positive holding arrives later
func MaxTime(reqs []Request) int {
	maxTime := 0
	for _, req := range reqs {
		maxTime = max(maxTime, req.Arrival, req.Expiry())
	}
	return maxTime
}

// parseTrafficLine decodes one record.  The index field carries a trailing ':'.
func parseTrafficLine(line string) (Request, error) {
	parts := strings.Fields(line)
	if len(parts) != 6 && len(parts) != 7 {
		return Request{}, errors.Errorf("expected 6 or 7 fields, found %d", len(parts))
	}

	vals := make([]int, len(parts))
	for idx, part := range parts {
		if idx == 0 {
			part = strings.TrimSuffix(part, ":")
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return Request{}, errors.Wrapf(err, "field %d", idx)
		}
		vals[idx] = v
	}

	req := Request{ID: vals[0], Src: vals[1], Dst: vals[2], Width: vals[3], SlotHint: NoSlotHint}
	if len(vals) == 7 {
		req.SlotHint = vals[4]
		vals = append(vals[:4], vals[5:]...)
	}
	req.Arrival = vals[4]
	req.Holding = vals[5]
	return req, nil
}

// ParseTraffic decodes the records read from r.  Malformed lines are skipped with
// a warning; blank lines are ignored.  Records are returned in the order read.
func ParseTraffic(r io.Reader, logger *zap.Logger) ([]Request, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reqs := make([]Request, 0)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo += 1
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}
		req, err := parseTrafficLine(line)
		if err != nil {
			logger.Warn("ignoring invalid traffic record",
				zap.Int("line", lineNo), zap.String("text", line), zap.Error(err))
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, errors.Wrap(scanner.Err(), "read traffic")
}

// ReadTraffic reads the records of the named file.  A file that cannot be opened
// yields an empty request list and an error wrapping ErrSourceUnreadable, which
// the caller may log and carry on with.
func ReadTraffic(filename string, logger *zap.Logger) ([]Request, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(filename)
	if err != nil {
		logger.Warn("traffic file cannot be read", zap.String("file", filename), zap.Error(err))
		return []Request{}, errors.Wrapf(ErrSourceUnreadable, "%s: %v", filename, err)
	}
	defer f.Close()

	reqs, err := ParseTraffic(f, logger.With(zap.String("file", filename)))
	if err != nil {
		logger.Warn("traffic file read stopped early", zap.String("file", filename), zap.Error(err))
	}
	return reqs, nil
}

// WriteTraffic writes reqs in the text traffic format.  A request carrying a slot
// hint is written in the seven-field form.
func WriteTraffic(w io.Writer, reqs []Request) error {
	bw := bufio.NewWriter(w)
	for _, req := range reqs {
		var err error
		if req.SlotHint == NoSlotHint {
			_, err = fmt.Fprintf(bw, "%d: %d %d %d %d %d\n",
				req.ID, req.Src, req.Dst, req.Width, req.Arrival, req.Holding)
		} else {
			_, err = fmt.Fprintf(bw, "%d: %d %d %d %d %d %d\n",
				req.ID, req.Src, req.Dst, req.Width, req.SlotHint, req.Arrival, req.Holding)
		}
		if err != nil {
			return errors.Wrap(err, "write traffic")
		}
	}
	return errors.Wrap(bw.Flush(), "write traffic")
}

// bucketByArrival groups requests by arrival tick, each group in ascending id order
func bucketByArrival(reqs []Request) map[int][]Request {
	buckets := make(map[int][]Request)
	for _, req := range reqs {
		buckets[req.Arrival] = append(buckets[req.Arrival], req)
	}
	for _, bucket := range buckets {
		slices.SortStableFunc(bucket, func(a, b Request) int { return a.ID - b.ID })
	}
	return buckets
}
