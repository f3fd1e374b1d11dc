package bridge

import "sync"

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide bridge used by the package-level
// functions. It starts without a transport; hosts Attach one.
func Default() *Bridge {
	defaultOnce.Do(func() {
		defaultBridge = New()
	})
	return defaultBridge
}

func Call(className, method string, params any) *Future {
	return Default().Call(className, method, params)
}

func AddListener(event string, l *Listener) func() {
	return Default().AddListener(event, l)
}

func RemoveListener(event string, l *Listener) {
	Default().RemoveListener(event, l)
}

func GetParams() map[string]any {
	return Default().GetParams()
}

func GetParam(key string) (any, bool) {
	return Default().GetParam(key)
}

// ReceiveMessage is the entry point a host transport feeds inbound data to.
func ReceiveMessage(raw any) {
	Default().Receive(raw)
}
