package session

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// writePump is the only writer of the client connection. It exits when the
// write queue is closed and drained, or on the first write error, and then
// closes the client connection.
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		cs.clientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.clientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		cs.clientConn.Close()
	}()

	for {
		select {
		case msg, ok := <-cs.writeChan:
			if !ok {
				return
			}
			cs.clientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.clientConn.WriteMessage(msg.messageType, msg.data); err != nil {
				if cs.State() == StateActive {
					log.Printf("❌ [%s] Client write error: %v", shortID(cs.ID), err)
				}
				cs.beginClose()
				return
			}

		case <-ping:
			if err := cs.clientConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cs.beginClose()
				return
			}
		}
	}
}

// queueMessage blocks until the pump accepts the frame or the session ends
func (cs *ClientSession) queueMessage(ctx context.Context, frame clientFrame) error {
	select {
	case cs.writeChan <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver encodes one relay output for this client and queues it
func (cs *ClientSession) deliver(ctx context.Context, out Output) error {
	frames, err := cs.codec.Outbound(out)
	if err != nil {
		log.Printf("⚠️ [%s] %v", shortID(cs.ID), err)
		return nil
	}
	for _, frame := range frames {
		if err := cs.queueMessage(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
