package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/foundation/errors"
	"git.home.luguber.info/inful/insightsync/internal/model"
)

// Message types of the line protocol.
const (
	TypeCatalog = "CATALOG"
	TypeRecord  = "RECORD"
	TypeState   = "STATE"
)

// Message is one line of output.
type Message struct {
	Type    string          `json:"type"`
	Catalog *CatalogMessage `json:"catalog,omitempty"`
	Record  *RecordMessage  `json:"record,omitempty"`
	State   *StateMessage   `json:"state,omitempty"`
}

type CatalogMessage struct {
	Stream     string          `json:"stream"`
	PrimaryKey []string        `json:"primary_key"`
	Schema     json.RawMessage `json:"json_schema,omitempty"`
}

type RecordMessage struct {
	Stream    string       `json:"stream"`
	Data      model.Record `json:"data"`
	EmittedAt int64        `json:"emitted_at"`
}

type StateMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// JSONLines writes one JSON message per line.
type JSONLines struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	enc    *json.Encoder
	now    func() time.Time
}

// NewJSONLines writes to w. Close closes w when it is an io.Closer other than stdout.
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	s := &JSONLines{w: bw, enc: json.NewEncoder(bw), now: time.Now}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		s.closer = c
	}
	return s
}

// OpenJSONLines writes to path, or stdout when path is "-" or empty.
func OpenJSONLines(path string) (*JSONLines, error) {
	if path == "" || path == "-" {
		return NewJSONLines(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategorySink, "failed to open output file").
			WithContext("path", path).
			Build()
	}
	return NewJSONLines(f), nil
}

func (s *JSONLines) write(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		return fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return nil
}

func (s *JSONLines) Prepare(_ context.Context, info StreamInfo) error {
	return s.write(Message{Type: TypeCatalog, Catalog: &CatalogMessage{
		Stream:     info.Name,
		PrimaryKey: info.PrimaryKey,
		Schema:     info.Schema,
	}})
}

func (s *JSONLines) WriteRecord(_ context.Context, stream string, rec model.Record) error {
	return s.write(Message{Type: TypeRecord, Record: &RecordMessage{
		Stream:    stream,
		Data:      rec,
		EmittedAt: s.now().UnixMilli(),
	}})
}

func (s *JSONLines) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// WriteState writes the checkpoint and flushes so it never precedes its records on disk.
func (s *JSONLines) WriteState(ctx context.Context, stream string, state json.RawMessage) error {
	if err := s.write(Message{Type: TypeState, State: &StateMessage{Stream: stream, Data: state}}); err != nil {
		return err
	}
	return s.Commit(ctx)
}

func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
