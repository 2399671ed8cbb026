package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/activitypulse/internal/domain"
)

const (
	// Heuristic size of one frame, used to turn the message budget into a byte budget.
	estimatedMessageSize = 1024

	DefaultSendBufferMessages = 100

	// The channel holds more frames than the byte budget normally admits so that small frames
	// are limited by bytes, not slots.
	sendChannelSlack = 4
)

// Transport is the write side of one client connection.
// WriteMessage is only ever called from the connection's writer goroutine; WritePing,
// CloseWithCode and Close may be called concurrently with it.
type Transport interface {
	WriteMessage(data []byte) error
	WritePing(payload []byte) error
	CloseWithCode(code int, reason string) error
	Close() error
}

type sendResult int

const (
	sendQueued sendResult = iota
	sendClosed
	sendBackpressure
)

type clientWriter struct {
	transport   Transport
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	open        atomic.Bool
	queuedBytes atomic.Int64
	limitBytes  int64
}

func newClientWriter(transport Transport, bufferMessages int) *clientWriter {
	if bufferMessages <= 0 {
		bufferMessages = DefaultSendBufferMessages
	}
	cw := &clientWriter{
		transport:   transport,
		sendChannel: make(chan []byte, bufferMessages*sendChannelSlack),
		doneChannel: make(chan struct{}),
		limitBytes:  int64(bufferMessages) * estimatedMessageSize,
	}
	cw.open.Store(true)
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			err := cw.transport.WriteMessage(msg)
			cw.queuedBytes.Add(-int64(len(msg)))
			if err != nil {
				// Peer is gone. The read side or the heartbeat monitor will deregister us.
				cw.open.Store(false)
				_ = cw.transport.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// trySend enqueues msg without blocking.
func (cw *clientWriter) trySend(msg []byte) sendResult {
	if !cw.open.Load() {
		return sendClosed
	}
	if cw.queuedBytes.Load() > cw.limitBytes {
		return sendBackpressure
	}

	size := int64(len(msg))
	cw.queuedBytes.Add(size)
	select {
	case cw.sendChannel <- msg:
		return sendQueued
	default:
		cw.queuedBytes.Add(-size)
		return sendBackpressure
	}
}

func (cw *clientWriter) ping() error {
	if !cw.open.Load() {
		return domain.ErrTransportClosed
	}
	if err := cw.transport.WritePing(domain.PingPayload); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

func (cw *clientWriter) isOpen() bool {
	return cw.open.Load()
}

func (cw *clientWriter) buffered() int64 {
	return cw.queuedBytes.Load()
}

// stop tears the connection down without a close frame.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		cw.open.Store(false)
		close(cw.doneChannel)
		_ = cw.transport.Close()
	})
	cw.wg.Wait()
}

// terminate sends a close frame with code and reason, then tears the connection down.
func (cw *clientWriter) terminate(code int, reason string) {
	cw.stopOnce.Do(func() {
		cw.open.Store(false)
		close(cw.doneChannel)
		_ = cw.transport.CloseWithCode(code, reason)
		_ = cw.transport.Close()
	})
	cw.wg.Wait()
}
