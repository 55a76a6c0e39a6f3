package notify

import (
	"net/http"

	sse "github.com/r3labs/sse/v2"
)

const streamID = "events"

// SSEPublisher broadcasts realtime events over a server-sent-events stream.
type SSEPublisher struct {
	server *sse.Server
}

func NewSSEPublisher() *SSEPublisher {
	server := sse.New()
	server.AutoReplay = false
	server.CreateStream(streamID)

	return &SSEPublisher{server: server}
}

func (p *SSEPublisher) Publish(event string, data []byte) {
	p.server.Publish(streamID, &sse.Event{
		Event: []byte(event),
		Data:  data,
	})
}

// HandleHTTP serves the event stream to a subscribing client.
func (p *SSEPublisher) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	// pin subscribers to the single broadcast stream
	q := r.URL.Query()
	q.Set("stream", streamID)
	r.URL.RawQuery = q.Encode()

	p.server.ServeHTTP(w, r)
}

func (p *SSEPublisher) Close() {
	p.server.Close()
}
