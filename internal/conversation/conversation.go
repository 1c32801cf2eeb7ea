// Package conversation holds the ordered record of questions and answers.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"TableChat/internal/rowset"
)

// Role identifies who produced an exchange
type Role string

const (
	RoleUser   Role = "user"
	RoleAnswer Role = "system-answer"
	RoleError  Role = "system-error"
)

// Exchange is one entry of the log. Everything except the two visibility flags is fixed
// once appended.
type Exchange struct {
	ID             int             `json:"id"`
	Role           Role            `json:"role"`
	Text           string          `json:"text"`
	GeneratedQuery string          `json:"generated_query,omitempty"`
	Rows           []rowset.Record `json:"rows,omitempty"`
	QueryVisible   bool            `json:"query_visible"`
	AllRowsVisible bool            `json:"all_rows_visible"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HasQuery reports whether the exchange carries generated query text
func (e Exchange) HasQuery() bool {
	return e.Role == RoleAnswer && e.GeneratedQuery != ""
}

// HasRows reports whether the exchange carries a non-empty rowset
func (e Exchange) HasRows() bool {
	return len(e.Rows) > 0
}

// Log is an append-only list of exchanges, safe for concurrent use
type Log struct {
	mu        sync.Mutex
	exchanges []Exchange
	now       func() time.Time
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{now: time.Now}
}

// AppendUser records a question
func (l *Log) AppendUser(text string) Exchange {
	return l.append(Exchange{Role: RoleUser, Text: text})
}

// AppendAnswer records a successful answer
func (l *Log) AppendAnswer(text, query string, rows []rowset.Record) Exchange {
	return l.append(Exchange{Role: RoleAnswer, Text: text, GeneratedQuery: query, Rows: rows})
}

// AppendError records a failure shown to the user
func (l *Log) AppendError(text string) Exchange {
	return l.append(Exchange{Role: RoleError, Text: text})
}

func (l *Log) append(e Exchange) Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = len(l.exchanges) + 1
	e.Timestamp = l.now()
	l.exchanges = append(l.exchanges, e)
	return e
}

// Len returns the number of exchanges
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.exchanges)
}

// Exchanges returns a copy of the log in append order
func (l *Log) Exchanges() []Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Exchange(nil), l.exchanges...)
}

// Get returns the exchange with the given ID
func (l *Log) Get(id int) (Exchange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 1 || id > len(l.exchanges) {
		return Exchange{}, fmt.Errorf("no exchange #%d", id)
	}
	return l.exchanges[id-1], nil
}

// LastAnswer returns the most recent system-answer exchange
func (l *Log) LastAnswer() (Exchange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.exchanges) - 1; i >= 0; i-- {
		if l.exchanges[i].Role == RoleAnswer {
			return l.exchanges[i], true
		}
	}
	return Exchange{}, false
}

// SetQueryVisible sets the "show query" flag of an answer
func (l *Log) SetQueryVisible(id int, visible bool) (Exchange, error) {
	return l.update(id, func(e *Exchange) { e.QueryVisible = visible })
}

// SetAllRowsVisible sets the "show all rows" flag of an answer
func (l *Log) SetAllRowsVisible(id int, visible bool) (Exchange, error) {
	return l.update(id, func(e *Exchange) { e.AllRowsVisible = visible })
}

func (l *Log) update(id int, fn func(*Exchange)) (Exchange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 1 || id > len(l.exchanges) {
		return Exchange{}, fmt.Errorf("no exchange #%d", id)
	}
	e := &l.exchanges[id-1]
	if e.Role != RoleAnswer {
		return Exchange{}, fmt.Errorf("exchange #%d is not an answer", id)
	}
	fn(e)
	return *e, nil
}
