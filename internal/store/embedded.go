package store

import (
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Embedded runs an in-process Redis emulator for development without a
// REDIS_URL. The emulator only advances key expiry when told to, so a
// ticker feeds it wall-clock time.
type Embedded struct {
	server *miniredis.Miniredis
	client *redis.Client
	stop   chan struct{}
	wg     sync.WaitGroup
}

// StartEmbedded starts the emulator and a client connected to it.
func StartEmbedded() (*Embedded, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	e := &Embedded{
		server: server,
		client: redis.NewClient(&redis.Options{Addr: server.Addr(), Protocol: 2}),
		stop:   make(chan struct{}),
	}

	e.wg.Add(1)
	go e.advanceClock(time.Second)

	return e, nil
}

func (e *Embedded) advanceClock(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			e.server.FastForward(now.Sub(last))
			last = now
		case <-e.stop:
			return
		}
	}
}

// Client returns the client bound to the emulator.
func (e *Embedded) Client() redis.UniversalClient {
	return e.client
}

// Close stops the clock, the client and the emulator.
func (e *Embedded) Close() error {
	close(e.stop)
	e.wg.Wait()
	err := e.client.Close()
	e.server.Close()
	return err
}
