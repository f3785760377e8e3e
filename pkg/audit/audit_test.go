// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebpf-microsegment/connguard/pkg/execctx"
)

func testContext() execctx.Static {
	s := execctx.NewStatic(4242, "curl", "worker-1")
	s.Cgroup = 77
	return s
}

// TestRecordLayout tests field offsets of an encoded record
func TestRecordLayout(t *testing.T) {
	ev := BlockedIPv4{
		Header: Header{CgroupID: 0x0102030405060708, PID: 0x0a0b0c0d, Type: EventBlockedIPv4},
		Src:    [4]byte{192, 168, 0, 2},
		Dst:    [4]byte{1, 1, 1, 1},
		DPort:  443,
	}
	copy(ev.NodeName[:], "node")
	copy(ev.Command[:], "curl")

	var rec Record
	for i := range rec {
		rec[i] = 0xff
	}
	ev.Encode(&rec)

	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, rec[0:8])
	assert.Equal(t, []byte{0x0d, 0x0c, 0x0b, 0x0a}, rec[8:12])
	assert.Equal(t, []byte{0, 0, 0, 0}, rec[12:16])
	assert.Equal(t, "node", execctx.CString(rec[16:81]))
	assert.Equal(t, "curl", execctx.CString(rec[81:97]))
	assert.Equal(t, make([]byte, 7), rec[97:104])
	assert.Equal(t, []byte{192, 168, 0, 2}, rec[104:108])
	assert.Equal(t, []byte{1, 1, 1, 1}, rec[108:112])
	assert.Equal(t, []byte{0xbb, 0x01}, rec[112:114])
	assert.Equal(t, byte(OpConnect), rec[114])
	assert.Equal(t, byte(0), rec[115])
	assert.Equal(t, make([]byte, 4), rec[116:120])

	ev.Flags = FlagMonitored
	ev.Encode(&rec)
	assert.Equal(t, FlagMonitored, rec[115])
}

// TestDecode tests decoding and length checks
func TestDecode(t *testing.T) {
	ev := BlockedIPv4{Header: Header{PID: 9}, Dst: [4]byte{10, 0, 0, 1}, DPort: 80, Flags: FlagMonitored}
	var rec Record
	ev.Encode(&rec)

	got, err := Decode(rec[:])
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Equal(t, "10.0.0.1", got.DstAddr().String())
	assert.True(t, got.Monitored())

	// A record cut before the flags byte decodes as not monitored.
	got, err = Decode(rec[:115])
	require.NoError(t, err)
	assert.False(t, got.Monitored())

	_, err = Decode(rec[:50])
	assert.ErrorIs(t, err, ErrShortRecord)
	_, err = Decode(rec[:110])
	assert.ErrorIs(t, err, ErrShortRecord)

	rec[12] = 7
	_, err = Decode(rec[:])
	assert.Error(t, err)
}

// TestReporter tests that the reporter fills fields from the context
func TestReporter(t *testing.T) {
	ring := NewRing(4)
	r := NewReporter(ring)

	ok := r.BlockedIPv4(testContext(), OpConnect, [4]byte{10, 0, 0, 5}, [4]byte{8, 8, 8, 8}, [2]byte{0x00, 0x35}, false)
	require.True(t, ok)

	raw, err := ring.Read()
	require.NoError(t, err)
	ev, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(4242), ev.PID)
	assert.Equal(t, uint64(77), ev.CgroupID)
	assert.Equal(t, "curl", execctx.CString(ev.Command[:]))
	assert.Equal(t, "worker-1", execctx.CString(ev.NodeName[:]))
	assert.Equal(t, uint16(53), ev.DPort)
	assert.Equal(t, [4]byte{10, 0, 0, 5}, ev.Src)
	assert.Equal(t, [4]byte{8, 8, 8, 8}, ev.Dst)
	assert.Equal(t, EventBlockedIPv4, ev.Type)
	assert.False(t, ev.Monitored())
}

// TestRingBackpressure tests that a full ring drops without blocking
func TestRingBackpressure(t *testing.T) {
	ring := NewRing(2)
	var rec Record

	assert.True(t, ring.Publish(rec))
	assert.True(t, ring.Publish(rec))
	assert.False(t, ring.Publish(rec))

	assert.Equal(t, uint64(2), ring.Published())
	assert.Equal(t, uint64(1), ring.Dropped())
	assert.Equal(t, 2, ring.Len())
	assert.Equal(t, 2, ring.Cap())
}

// TestRingCopiesRecord tests that later writes to the caller's record
// do not alter the queued copy
func TestRingCopiesRecord(t *testing.T) {
	ring := NewRing(1)
	var rec Record
	rec[0] = 1
	require.True(t, ring.Publish(rec))
	rec[0] = 2

	raw, err := ring.Read()
	require.NoError(t, err)
	assert.Equal(t, byte(1), raw[0])
}

// TestRingConcurrentProducers tests many publishers against one reader
func TestRingConcurrentProducers(t *testing.T) {
	ring := NewRing(64)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rec Record
			for i := 0; i < 100; i++ {
				ring.Publish(rec)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(800), ring.Published()+ring.Dropped())
	assert.Equal(t, int(ring.Published()), ring.Len())
}

// TestRingClose tests that Close wakes a blocked reader
func TestRingClose(t *testing.T) {
	ring := NewRing(1)
	done := make(chan error, 1)
	go func() {
		_, err := ring.Read()
		done <- err
	}()

	require.NoError(t, ring.Close())
	require.NoError(t, ring.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}
}

// TestConsumer tests decoding, labelling and JSON output
func TestConsumer(t *testing.T) {
	ring := NewRing(8)
	reporter := NewReporter(ring)
	var buf bytes.Buffer

	entries := make(chan Entry, 2)
	c := NewConsumer(ring,
		WithOutput(&buf),
		WithHandler(func(e Entry) { entries <- e }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	reporter.BlockedIPv4(testContext(), OpConnect, [4]byte{}, [4]byte{93, 184, 216, 34}, [2]byte{0x01, 0xbb}, true)

	var e Entry
	select {
	case e = <-entries:
	case <-time.After(2 * time.Second):
		t.Fatal("no entry consumed")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, ActionMonitored, e.Action)
	assert.Equal(t, "93.184.216.34", e.Dst)
	assert.Equal(t, uint16(443), e.DPort)
	assert.Equal(t, "curl", e.Command)
	assert.Equal(t, "connect", e.Operation)
	assert.Equal(t, "blocked-ipv4", e.Type)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, uint64(1), c.Received())

	var written Entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &written))
	assert.Equal(t, e.ID, written.ID)
}

type sliceSource struct {
	records [][]byte
	closed  chan struct{}
	once    sync.Once
}

func (s *sliceSource) Read() ([]byte, error) {
	if len(s.records) > 0 {
		r := s.records[0]
		s.records = s.records[1:]
		return r, nil
	}
	<-s.closed
	return nil, ErrClosed
}

func (s *sliceSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// TestConsumerMalformed tests that bad records are counted and skipped
func TestConsumerMalformed(t *testing.T) {
	var good Record
	(&BlockedIPv4{}).Encode(&good)
	src := &sliceSource{records: [][]byte{{1, 2, 3}, good[:]}, closed: make(chan struct{})}

	seen := make(chan Entry, 1)
	c := NewConsumer(src, WithHandler(func(e Entry) { seen <- e }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case e := <-seen:
		assert.Equal(t, ActionBlocked, e.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("good record not consumed")
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), c.DecodeErrors())
	assert.Equal(t, uint64(1), c.Received())
}

// FuzzDecode tests that decoding arbitrary input never panics
func FuzzDecode(f *testing.F) {
	var rec Record
	(&BlockedIPv4{DPort: 22}).Encode(&rec)
	f.Add(rec[:])
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(data)
	})
}
