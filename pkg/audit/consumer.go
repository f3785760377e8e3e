// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ebpf-microsegment/connguard/pkg/execctx"
)

const (
	ActionBlocked   = "blocked"
	ActionMonitored = "monitored"
)

// Entry is the rendered form of an audit record.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	Type      string    `json:"type"`
	Operation string    `json:"operation"`
	PID       uint32    `json:"pid"`
	Command   string    `json:"command"`
	NodeName  string    `json:"node_name"`
	CgroupID  uint64    `json:"cgroup_id"`
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	DPort     uint16    `json:"dport"`
	Exe       string    `json:"exe,omitempty"`
	Cmdline   string    `json:"cmdline,omitempty"`
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithOutput writes every entry as a JSON line to w.
func WithOutput(w io.Writer) ConsumerOption {
	return func(c *Consumer) { c.out = json.NewEncoder(w) }
}

// WithEnrichment looks up exe and cmdline of the reporting process.
func WithEnrichment(enabled bool) ConsumerOption {
	return func(c *Consumer) { c.enrich = enabled }
}

// WithHandler calls fn for every rendered entry.
func WithHandler(fn func(Entry)) ConsumerOption {
	return func(c *Consumer) { c.handler = fn }
}

// Consumer drains a Source, decodes records and renders them.
type Consumer struct {
	src     Source
	enrich  bool
	handler func(Entry)

	mu  sync.Mutex
	out *json.Encoder

	received     atomic.Uint64
	decodeErrors atomic.Uint64
}

func NewConsumer(src Source, opts ...ConsumerOption) *Consumer {
	c := &Consumer{src: src}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads until ctx is cancelled or the source is closed. Cancelling
// ctx closes the source.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		return c.src.Close()
	})

	g.Go(func() error {
		defer close(stop)
		for {
			raw, err := c.src.Read()
			if err != nil {
				if errors.Is(err, ErrClosed) {
					log.Debug("Audit source closed, consumer exiting")
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				log.Warnf("Failed to read audit record: %v", err)
				continue
			}
			c.handle(raw)
		}
	})

	return g.Wait()
}

func (c *Consumer) handle(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		c.decodeErrors.Add(1)
		log.Warnf("Dropping malformed audit record: %v", err)
		return
	}
	c.received.Add(1)

	entry := c.render(&ev)

	fields := log.Fields{
		"id":        entry.ID,
		"pid":       entry.PID,
		"command":   entry.Command,
		"node":      entry.NodeName,
		"cgroup_id": entry.CgroupID,
		"src":       entry.Src,
		"dst":       entry.Dst,
		"dport":     entry.DPort,
		"operation": entry.Operation,
	}
	if entry.Exe != "" {
		fields["exe"] = entry.Exe
	}
	if entry.Action == ActionMonitored {
		log.WithFields(fields).Info("Connection would be blocked")
	} else {
		log.WithFields(fields).Warn("Connection blocked")
	}

	if c.out != nil {
		c.mu.Lock()
		if err := c.out.Encode(entry); err != nil {
			log.Warnf("Failed to write audit entry: %v", err)
		}
		c.mu.Unlock()
	}
	if c.handler != nil {
		c.handler(entry)
	}
}

func (c *Consumer) render(ev *BlockedIPv4) Entry {
	// The label comes from the record, so a mode change while records
	// are queued does not relabel them.
	action := ActionBlocked
	if ev.Monitored() {
		action = ActionMonitored
	}
	entry := Entry{
		ID:        uuid.NewString(),
		Time:      time.Now().UTC(),
		Action:    action,
		Type:      ev.Type.String(),
		Operation: ev.Operation.String(),
		PID:       ev.PID,
		Command:   execctx.CString(ev.Command[:]),
		NodeName:  execctx.CString(ev.NodeName[:]),
		CgroupID:  ev.CgroupID,
		Src:       ev.SrcAddr().String(),
		Dst:       ev.DstAddr().String(),
		DPort:     ev.DPort,
	}
	if c.enrich {
		// The process may have exited by now.
		if p, err := process.NewProcess(int32(ev.PID)); err == nil {
			entry.Exe, _ = p.Exe()
			entry.Cmdline, _ = p.Cmdline()
		}
	}
	return entry
}

// Received returns the number of records decoded.
func (c *Consumer) Received() uint64 { return c.received.Load() }

// DecodeErrors returns the number of malformed records.
func (c *Consumer) DecodeErrors() uint64 { return c.decodeErrors.Load() }
