package ai

import (
	"bufio"
	"bytes"
	"io"
)

// sseEvent is one server-sent event: an optional event name plus the
// concatenated data payload.
type sseEvent struct {
	name string
	data []byte
}

// sseReader decodes the line-delimited SSE framing used by streaming
// backends. Multiple `data:` lines are joined with `\n`, per the SSE spec.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next complete event, or io.EOF when the transport ends.
func (d *sseReader) Next() (sseEvent, error) {
	var ev sseEvent
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			// Flush anything accumulated before EOF; some backends close
			// the connection without a trailing blank line.
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				ev.name, dataLines = consumeLine(ev.name, dataLines, line)
			}
			if len(dataLines) > 0 {
				ev.data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			if err == io.EOF {
				return sseEvent{}, io.EOF
			}
			return sseEvent{}, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 && ev.name == "" {
				continue
			}
			ev.data = bytes.Join(dataLines, []byte("\n"))
			return ev, nil
		}
		if line[0] == ':' { // comment
			continue
		}
		ev.name, dataLines = consumeLine(ev.name, dataLines, line)
	}
}

func consumeLine(name string, dataLines [][]byte, line []byte) (string, [][]byte) {
	if v, ok := fieldValue(line, "event:"); ok {
		return string(v), dataLines
	}
	if v, ok := fieldValue(line, "data:"); ok {
		return name, append(dataLines, append([]byte(nil), v...))
	}
	return name, dataLines
}

func fieldValue(line []byte, prefix string) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	v := line[len(prefix):]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return v, true
}
