package ktl

import (
	"fmt"
	"strings"
	"sync"
)

// Write is one entry of the Mock write journal
type Write struct {
	Keyword string
	Value   string
	Wait    bool
}

// Mock is an in-memory Service.  Keywords are case insensitive, as they are
// in KTL.  A scripted keyword returns its values in order on successive
// reads, the last value sticking
type Mock struct {
	sync.Mutex

	// OnWrite, if not nil, is called after each write with the mock
	// unlocked, so it may call Seed or Script to simulate a device
	OnWrite func(m *Mock, keyword, value string)

	values  map[string]string
	scripts map[string][]string
	errs    map[string]error
	reads   map[string]int
	writes  []Write
}

// NewMock returns an empty Mock
func NewMock() *Mock {
	return &Mock{
		values:  make(map[string]string),
		scripts: make(map[string][]string),
		errs:    make(map[string]error),
		reads:   make(map[string]int)}
}

func key(keyword string) string {
	return strings.ToUpper(keyword)
}

// Seed sets the value of a keyword, clearing any script
func (m *Mock) Seed(keyword, value string) {
	m.Lock()
	defer m.Unlock()
	k := key(keyword)
	delete(m.scripts, k)
	m.values[k] = value
}

// Script queues values to be returned by successive reads of keyword
func (m *Mock) Script(keyword string, values ...string) {
	m.Lock()
	defer m.Unlock()
	m.scripts[key(keyword)] = append([]string{}, values...)
}

// Fail makes reads of a keyword return err.  A nil err clears the failure
func (m *Mock) Fail(keyword string, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.errs, key(keyword))
		return
	}
	m.errs[key(keyword)] = err
}

// Read satisfies Service
func (m *Mock) Read(keyword string) (string, error) {
	m.Lock()
	defer m.Unlock()
	k := key(keyword)
	m.reads[k]++
	if err, ok := m.errs[k]; ok {
		return "", err
	}
	if script, ok := m.scripts[k]; ok && len(script) > 0 {
		v := script[0]
		if len(script) > 1 {
			m.scripts[k] = script[1:]
		} else {
			delete(m.scripts, k)
			m.values[k] = v
		}
		return v, nil
	}
	v, ok := m.values[k]
	if !ok {
		return "", fmt.Errorf("keyword %s does not exist", keyword)
	}
	return v, nil
}

// Write satisfies Service
func (m *Mock) Write(keyword, value string, wait bool) error {
	m.Lock()
	k := key(keyword)
	delete(m.scripts, k)
	m.values[k] = value
	m.writes = append(m.writes, Write{Keyword: k, Value: value, Wait: wait})
	hook := m.OnWrite
	m.Unlock()
	if hook != nil {
		hook(m, k, value)
	}
	return nil
}

// Value returns the current value of a keyword without counting as a read
func (m *Mock) Value(keyword string) (string, bool) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.values[key(keyword)]
	return v, ok
}

// Reads returns the number of times a keyword has been read
func (m *Mock) Reads(keyword string) int {
	m.Lock()
	defer m.Unlock()
	return m.reads[key(keyword)]
}

// Writes returns a copy of the write journal
func (m *Mock) Writes() []Write {
	m.Lock()
	defer m.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// ResetJournal clears the write journal and read counters
func (m *Mock) ResetJournal() {
	m.Lock()
	defer m.Unlock()
	m.writes = nil
	m.reads = make(map[string]int)
}
