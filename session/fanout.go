package session

import (
	"bytes"
)

// fanout is the set of sessions receiving copies of one session's output.
type fanout map[*Session]bool

func (f fanout) push(s *Session) {
	f[s] = true
}

func (f fanout) drop(s *Session) {
	delete(f, s)
}

func (f fanout) clone() fanout {
	result := make(fanout, len(f))
	for s := range f {
		result[s] = true
	}
	return result
}

func (f fanout) sessions() []*Session {
	result := make([]*Session, 0, len(f))
	for s := range f {
		result = append(result, s)
	}
	return result
}

// copy writes b to every watcher with each line tagged by prefix, returning
// the watchers whose writes failed.
func (f fanout) copy(tag string, b []byte) []*Session {
	prefix := []byte(tag)
	buf := &bytes.Buffer{}
	for _, line := range bytes.SplitAfter(b, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			buf.Write(line)
			continue
		}
		buf.Write(prefix)
		buf.Write(line)
	}
	var failed []*Session
	for s := range f {
		if _, err := s.writeDirect(buf.Bytes()); err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}
