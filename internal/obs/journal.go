package obs

import (
	"fmt"
	"sync"

	"github.com/yanun0323/logs"
)

// Level classifies a journal entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one line of the action log. Time is the simulated time in unix ms.
type Entry struct {
	Time    int64  `json:"time"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Journal keeps the action log of a run and mirrors every entry to the logger.
// Quiet suppresses logger output while still recording entries.
type Journal struct {
	Quiet bool

	mu      sync.Mutex
	entries []Entry
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Infof(now int64, format string, args ...any) {
	j.add(now, LevelInfo, fmt.Sprintf(format, args...))
}

func (j *Journal) Warningf(now int64, format string, args ...any) {
	j.add(now, LevelWarning, fmt.Sprintf(format, args...))
}

func (j *Journal) Errorf(now int64, format string, args ...any) {
	j.add(now, LevelError, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the action log.
func (j *Journal) Entries() []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Count returns the number of entries at level.
func (j *Journal) Count(level Level) int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	for _, e := range j.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (j *Journal) add(now int64, level Level, msg string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, Entry{Time: now, Level: level, Message: msg})
	quiet := j.Quiet
	j.mu.Unlock()

	if quiet {
		return
	}
	switch level {
	case LevelError:
		logs.Errorf("[%d] %s", now, msg)
	case LevelWarning:
		logs.Warnf("[%d] %s", now, msg)
	default:
		logs.Infof("[%d] %s", now, msg)
	}
}
