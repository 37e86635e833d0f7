// Package server accepts pairing connections and dials them.
//
// A Server listens on the next free port from a PortPool, runs the handshake
// on every accepted connection in its own goroutine and hands fully greeted
// peers to its owner through Peers(). Failures on one connection are logged
// and never affect the listener or other connections.
//
// # Lifecycle
//
//	Stopped ──Start──▶ Starting ──bind ok──▶ Listening ──Stop──▶ Stopped
//	                      │
//	                      └──3 binds failed──▶ Stopped (ErrBindFailed)
//
// # Usage
//
//	pool := server.NewPortPool(server.DefaultBasePort)
//	srv := server.New(server.Config{
//	    Host:    "0.0.0.0",
//	    Ports:   pool,
//	    Greeter: agg.greet,
//	})
//	srv.SetLogger(log)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	for peer := range srv.Peers() {
//	    log.Info("paired", "code", peer.VerificationCode)
//	}
//
// The client side is Dial, which connects and runs the handshake with retry.
package server
