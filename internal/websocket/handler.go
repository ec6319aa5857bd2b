package websocket

import (
	"wordware-roast-be/internal/service"
	"wordware-roast-be/pkg/wordware/stream"

	"github.com/gofiber/websocket/v2"
)

// Run is the part of a prepared service.Run that ServeRun drives.
type Run interface {
	Stream(sink stream.Sink) *service.RunResult
	Cancel()
}

// ServeRun relays a prepared run over the connection. A peer that goes away
// cancels the run. It returns only after the run has finished and both pump
// goroutines have exited, because the connection is recycled as soon as the
// websocket handler returns.
func ServeRun(c *websocket.Conn, run Run) *service.RunResult {
	client := NewClient(c)

	pingDone := make(chan struct{})
	readDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		client.pingPump()
	}()
	go func() {
		defer close(readDone)
		client.readPump(run.Cancel)
	}()

	result := run.Stream(client)

	// The relay closes the client at stream end; this covers early exits.
	_ = client.Close()
	<-readDone
	<-pingDone
	return result
}
