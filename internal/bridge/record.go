// Package bridge carries line-delimited JSON records between the hub and
// operator consoles: events flow hub → console, commands console → hub.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event kinds emitted by the hub in addition to forwarded frame kinds.
const (
	EventHubBoot  = "HUB_BOOT"
	EventNodeJoin = "NODE_JOIN"
	EventNodeBoot = "NODE_BOOT"
	EventNodeLost = "NODE_LOST"
)

// DefaultCommandKind is used when an operator command omits its kind.
const DefaultCommandKind = "CMD"

// Event is one hub → console record.
type Event struct {
	Kind      string `json:"kind"`
	Source    string `json:"src"`
	Dest      string `json:"dst"`
	UserID    string `json:"userId"`
	ToUser    string `json:"toUser,omitempty"`
	Payload   string `json:"payload"`
	Timestamp uint32 `json:"ts"`
}

// Command is one console → hub record. To is "all" (any case) or
// "BROADCAST" for every node, otherwise a node id.
type Command struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	UserID  string `json:"userId"`
	Payload string `json:"payload"`
}

// IsBroadcast reports whether c addresses every node.
func (c Command) IsBroadcast() bool {
	return strings.EqualFold(c.To, "all") || strings.EqualFold(c.To, "broadcast") || c.To == ""
}

// WriteLine encodes v as one JSON line.
func WriteLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: encode: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}

// ScanLines decodes JSON records of type T from r, one per line, calling fn
// for each. Blank and undecodable lines are passed to bad (if non-nil) and
// skipped. It returns when r is exhausted, ctx is done, or fn returns an error.
func ScanLines[T any](ctx context.Context, r io.Reader, fn func(T) error, bad func(line string, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 64*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			if bad != nil {
				bad(line, err)
			}
			continue
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
