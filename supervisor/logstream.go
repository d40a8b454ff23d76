package supervisor

import (
	"bufio"
	"errors"
	"io"
)

// maxLogLine bounds one forwarded worker log line. The remainder of a
// longer line is dropped; the stream keeps flowing.
const maxLogLine = 1024 * 1024

// forwardLines reads r to EOF and passes each line, without its line
// ending, to submit. A final line with no newline is still delivered.
func forwardLines(r io.Reader, submit func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	truncated := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if !truncated {
			if room := maxLogLine - len(line); len(frag) > room {
				frag = frag[:room]
				truncated = true
			}
			line = append(line, frag...)
		}
		if err != nil {
			if len(line) > 0 {
				submit(string(line))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !isPrefix {
			submit(string(line))
			line = line[:0]
			truncated = false
		}
	}
}
