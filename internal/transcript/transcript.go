// Package transcript owns the ordered message list of one session.
//
// Producers never touch the list directly. Append and Patch send typed ops
// over a channel to a single owner goroutine, which applies them in arrival
// order, persists each message to the session scope and publishes
// message.created / message.updated events synchronously, so subscribers
// see them in transcript order and must not call back into the same
// transcript. Because Append returns only
// after its op is applied, a producer that appends a placeholder before
// starting slow work fixes that message's position at trigger time.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/identity"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	ErrClosed   = errors.New("transcript closed")
	ErrNotFound = errors.New("message not found")
)

// Writer is the append/patch contract shared by every producer.
type Writer interface {
	Append(ctx context.Context, msg types.Message) (string, error)
	Patch(ctx context.Context, id string, patch types.MessagePatch) error
}

type opKind int

const (
	opAppend opKind = iota
	opPatch
	opList
)

type op struct {
	kind  opKind
	msg   types.Message
	id    string
	patch types.MessagePatch
	reply chan result
}

type result struct {
	id       string
	messages []types.Message
	err      error
}

// Transcript is the owner of one session's messages.
type Transcript struct {
	sessionID string
	kv        storage.KV
	bus       *event.Bus
	now       func() time.Time

	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by run
	messages []*types.Message
	index    map[string]int
}

// New starts the owner goroutine for sessionID. Close must be called to
// stop it.
func New(sessionID string, kv storage.KV, bus *event.Bus) *Transcript {
	t := &Transcript{
		sessionID: sessionID,
		kv:        kv,
		bus:       bus,
		now:       time.Now,
		ops:       make(chan op),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		index:     make(map[string]int),
	}
	go t.run()
	return t
}

func (t *Transcript) run() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case o := <-t.ops:
			o.reply <- t.apply(o)
		}
	}
}

func (t *Transcript) apply(o op) result {
	switch o.kind {
	case opAppend:
		return t.doAppend(o.msg)
	case opPatch:
		return result{err: t.doPatch(o.id, o.patch)}
	case opList:
		out := make([]types.Message, len(t.messages))
		for i, m := range t.messages {
			out[i] = clone(m)
		}
		return result{messages: out}
	}
	return result{err: fmt.Errorf("unknown op %d", o.kind)}
}

func (t *Transcript) doAppend(msg types.Message) result {
	if msg.ID == "" {
		msg.ID = identity.NewID()
	}
	if _, exists := t.index[msg.ID]; exists {
		return result{err: fmt.Errorf("duplicate message id %s", msg.ID)}
	}
	msg.SessionID = t.sessionID
	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	if msg.Kind == "" {
		msg.Kind = types.KindText
	}
	if msg.Status == "" {
		msg.Status = types.StatusComplete
	}
	msg.Time = types.MessageTime{Created: t.now().UnixMilli()}

	stored := &msg
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, stored)

	t.persist(stored)
	info := clone(stored)
	t.bus.PublishSync(event.Event{
		Type:      event.MessageCreated,
		SessionID: t.sessionID,
		Data:      event.MessageData{Info: &info},
	})
	return result{id: msg.ID}
}

func (t *Transcript) doPatch(id string, patch types.MessagePatch) error {
	i, ok := t.index[id]
	if !ok {
		return ErrNotFound
	}
	// Replace rather than mutate so earlier snapshots stay intact.
	next := clone(t.messages[i])
	if patch.Kind != nil {
		next.Kind = *patch.Kind
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Text != nil {
		next.Text = *patch.Text
	}
	if patch.Citations != nil {
		next.Citations = slices.Clone(patch.Citations)
	}
	if patch.Metadata != nil {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(patch.Metadata))
		}
		maps.Copy(next.Metadata, patch.Metadata)
	}
	updated := t.now().UnixMilli()
	next.Time.Updated = &updated
	t.messages[i] = &next

	t.persist(&next)
	info := clone(&next)
	t.bus.PublishSync(event.Event{
		Type:      event.MessageUpdated,
		SessionID: t.sessionID,
		Data:      event.MessageData{Info: &info},
	})
	return nil
}

func (t *Transcript) persist(msg *types.Message) {
	if t.kv == nil {
		return
	}
	if err := t.kv.Put(context.Background(), []string{"message", t.sessionID, msg.ID}, msg); err != nil {
		logging.Warn().Err(err).Str("sessionID", t.sessionID).Str("messageID", msg.ID).Msg("failed to persist message")
	}
}

func (t *Transcript) send(ctx context.Context, o op) (result, error) {
	o.reply = make(chan result, 1)
	select {
	case t.ops <- o:
	case <-t.done:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	// The owner always replies once it has taken an op.
	r := <-o.reply
	return r, r.err
}

// Append adds msg at the end of the transcript and returns its id.
func (t *Transcript) Append(ctx context.Context, msg types.Message) (string, error) {
	msg.Citations = slices.Clone(msg.Citations)
	msg.Metadata = maps.Clone(msg.Metadata)
	r, err := t.send(ctx, op{kind: opAppend, msg: msg})
	return r.id, err
}

// Patch replaces the non-nil fields of patch on message id in place.
func (t *Transcript) Patch(ctx context.Context, id string, patch types.MessagePatch) error {
	patch.Citations = slices.Clone(patch.Citations)
	patch.Metadata = maps.Clone(patch.Metadata)
	_, err := t.send(ctx, op{kind: opPatch, id: id, patch: patch})
	return err
}

// List returns a snapshot of all messages in insertion order.
func (t *Transcript) List(ctx context.Context) ([]types.Message, error) {
	r, err := t.send(ctx, op{kind: opList})
	return r.messages, err
}

// Close stops the owner goroutine. Pending and later calls return ErrClosed.
func (t *Transcript) Close() {
	t.closeOnce.Do(func() { close(t.quit) })
	<-t.done
}

func clone(m *types.Message) types.Message {
	c := *m
	c.Citations = slices.Clone(m.Citations)
	c.Metadata = maps.Clone(m.Metadata)
	if m.Time.Updated != nil {
		u := *m.Time.Updated
		c.Time.Updated = &u
	}
	return c
}

var _ Writer = (*Transcript)(nil)
