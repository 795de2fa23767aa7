// Package server hosts emulated BLUFI devices behind a WebSocket endpoint.
//
// Every accepted connection gets its own emulator.Device, so a client sees
// a fresh device with sequence counters at zero. The endpoint speaks the
// wsbridge framing (one BLUFI frame per binary message) and reports the
// configured MTU in the upgrade response.
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{
//	    Port:   8765,
//	    MTU:    185,
//	    Device: emulator.DefaultConfig(),
//	}, log)
//	if err != nil {
//	    return err
//	}
//	return srv.Serve(ctx)
//
// With TLS enabled and no certificate paths, a self-signed certificate is
// generated in memory; clients must then dial with verification disabled
// (blufi --insecure).
//
// Setting Advertise registers the endpoint over mDNS so that
// "blufi gateways" can find it.
package server
