package proxy

import (
	"github.com/rs/zerolog"

	"github.com/die-net/gatehouse/internal/cache"
	"github.com/die-net/gatehouse/internal/message"
)

// Observer receives server lifecycle notifications. Methods may be called
// from many connection goroutines at once.
type Observer interface {
	// Listening is called once Serve starts accepting on host:port.
	Listening(host string, port int)
	// Connection is called with every successfully parsed request.
	Connection(req *message.Request)
	// Error is called with per-connection and accept failures.
	Error(err error)
	// Closed is called once the server has been closed.
	Closed()
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Listening(string, int)        {}
func (NopObserver) Connection(*message.Request) {}
func (NopObserver) Error(error)                 {}
func (NopObserver) Closed()                     {}

// LogObserver logs notifications and cache events.
type LogObserver struct {
	Log zerolog.Logger
}

// NewLogObserver returns an observer writing to logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{Log: logger}
}

func (o *LogObserver) Listening(host string, port int) {
	o.Log.Info().Str("host", host).Int("port", port).Msg("proxy listening")
}

func (o *LogObserver) Connection(req *message.Request) {
	o.Log.Debug().
		Str("method", req.Method).
		Str("target", req.Target()).
		Str("host_header", req.Header.Get("host")).
		Msg("connection")
}

func (o *LogObserver) Error(err error) {
	o.Log.Warn().Err(err).Msg("connection error")
}

func (o *LogObserver) Closed() {
	o.Log.Info().Msg("proxy closed")
}

func (o *LogObserver) CacheEvent(e cache.Event) {
	o.Log.Trace().Str("op", e.Op.String()).Str("key", e.Key).Int("size", e.Size).Msg("cache")
}
