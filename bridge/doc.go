// Package bridge lets sandboxed mini-app code call methods on a host
// application and receive its events over a channel that only carries
// strings, one way at a time.
//
// Outbound calls are JSON objects {id, className, method, params}. The host
// answers with {id, success, data?, error?} or pushes {event, data}:
//
//	b := bridge.New(bridge.WithSender(conn))
//	b.On("paramsUpdated", func(data json.RawMessage) error { ... })
//	var info DeviceInfo
//	err := b.Call("Device", "getInfo", nil).Decode(ctx, &info)
//
// Whatever delivers host messages hands them to Bridge.Receive.
package bridge
