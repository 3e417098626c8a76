package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethpir/statepir/delta"
	"github.com/ethpir/statepir/metrics"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

// upgrader is shared across connections; origin checking is left to a
// reverse proxy in front of this service, the same posture the teacher's
// static-file serving takes (no CORS/origin logic in-process).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// deltaBroadcaster fans out newly finalized DeltaFrames to every open
// /ws/deltas connection for one lane, shape 2 of §4.8's three read paths.
type deltaBroadcaster struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

func newDeltaBroadcaster() *deltaBroadcaster {
	return &deltaBroadcaster{subs: make(map[*websocket.Conn]struct{})}
}

func (b *deltaBroadcaster) subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[conn] = struct{}{}
}

func (b *deltaBroadcaster) unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, conn)
}

// Publish pushes frame to every subscriber, dropping (and closing) any
// connection that can't keep up within wsWriteTimeout rather than blocking
// the single-producer delta pipeline on a slow reader.
func (b *deltaBroadcaster) Publish(frame delta.DeltaFrame) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.subs))
	for c := range b.subs {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	payload := frame.Marshal()
	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			klog.V(2).Infof("server: dropping slow/closed delta subscriber: %v", err)
			c.Close()
			b.unsubscribe(c)
		}
	}
}

// WSHandler upgrades a request to a websocket connection and streams
// delta frames for the named lane until the client disconnects.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lane := r.URL.Query().Get("lane")
		l, err := s.lanes.Get(lane)
		if err != nil {
			writeJSONErr(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			klog.Warningf("server: websocket upgrade for lane %q: %v", lane, err)
			return
		}
		metrics.WebsocketConnections.WithLabelValues(lane).Inc()
		defer metrics.WebsocketConnections.WithLabelValues(lane).Dec()
		defer conn.Close()

		b := l.broadcaster()
		b.subscribe(conn)
		defer b.unsubscribe(conn)

		// The connection is write-only from the server's perspective; read
		// in a loop purely to notice the client closing the socket (pings,
		// close frames) and release resources promptly.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
