// Package atvremote implements the TLS remote-control transport for a single
// Android TV device.
//
// The device exposes two services on adjacent TCP ports: the remote service
// (keycode injection plus power/app/volume notifications) and the pairing
// service (one-time PIN exchange that establishes certificate trust). Both
// speak the same length-prefixed message framing over TLS with client
// certificates. Trust is pairing-based, not CA-based: the device remembers
// client certificates it has paired with and rejects everything else.
//
// A Client owns exactly one connection and does NOT reconnect on its own;
// connection lifecycle (backoff, retry budgets, re-pairing) belongs to the
// session layer. When the transport drops, the client marks itself
// disconnected, fails all in-flight keycode waits and invokes the
// OnDisconnect callback once.
//
// Usage:
//
//	cert, err := atvremote.LoadOrCreateCertificate("./data/certs", deviceID)
//	client, err := atvremote.Connect(ctx, atvremote.Config{
//	    Address:     "192.168.1.50:6466",
//	    Certificate: cert,
//	})
//	if errors.Is(err, atvremote.ErrPairingRequired) {
//	    pairing, _ := atvremote.StartPairing(ctx, cfg) // device shows a PIN
//	    err = pairing.FinishPairing(ctx, pinFromUser)
//	}
//	err = client.SendKey(ctx, "KEYCODE_DPAD_UP", atvremote.ActionShort)
package atvremote
