package ingest

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
)

// LineFormat selects how tab-separated punch lines are interpreted.
type LineFormat int

const (
	// FormatSocket is the raw socket callback format:
	// userId<TAB>timestamp<TAB>status<TAB>... where status "1" is an arrival
	// and any other status a departure.
	FormatSocket LineFormat = iota + 1
	// FormatATTLOG is the ADMS push ATTLOG format:
	// PIN<TAB>timestamp<TAB>state<TAB>verify<TAB>... using vendor punch
	// states (0 arrival, 1 departure, ...) and verify codes.
	FormatATTLOG
)

// ParseLine converts one tab-separated line into a transaction for the device
// with the given serial. Blank lines return ok=false with no error.
func ParseLine(line string, format LineFormat, serial string, opts Options) (t punch.RawTransaction, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return punch.RawTransaction{}, false, nil
	}

	fields := strings.Split(line, "\t")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	details := map[string]string{"device_serial": serial, "line": line}

	if len(fields) < 2 || fields[0] == "" {
		return punch.RawTransaction{}, false, pipeline.NewMalformed("line needs a user id and a timestamp", details, nil)
	}
	ts, err := punch.ParseTimestamp(fields[1], opts.Location)
	if err != nil {
		return punch.RawTransaction{}, false, pipeline.NewMalformed("unparseable timestamp", details, err)
	}

	t = punch.RawTransaction{
		DeviceSerial:         strings.TrimSpace(serial),
		EmployeeCodeOnDevice: fields[0],
		PunchTimestamp:       ts,
		PunchState:           punch.StateNone,
		VerifyMethod:         punch.VerifyFingerprint,
		RawPayload:           line,
		Origin:               opts.Origin,
	}
	if id, err := strconv.ParseInt(fields[0], 10, 64); err == nil && id > 0 {
		t.MachineEmployeeID = id
	}

	switch format {
	case FormatSocket:
		if len(fields) > 2 && fields[2] != "" {
			if fields[2] == "1" {
				t.PunchState = punch.StateArrival
			} else {
				t.PunchState = punch.StateDeparture
			}
		}
	case FormatATTLOG:
		if len(fields) > 2 {
			t.PunchState = punch.ParseState(fields[2])
		}
		if len(fields) > 3 {
			t.VerifyMethod = punch.ParseVerifyMethod(fields[3])
		}
	}
	return t, true, nil
}

// ScanLines parses every line of r. Malformed lines are reported through
// onError and skipped; scanning continues. Returns the read error, if any.
func ScanLines(r io.Reader, format LineFormat, serial string, opts Options, onTxn func(punch.RawTransaction), onError func(error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		t, ok, err := ParseLine(sc.Text(), format, serial, opts)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		if ok {
			onTxn(t)
		}
	}
	return sc.Err()
}
