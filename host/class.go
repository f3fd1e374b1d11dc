package host

// Class registers handlers for the methods of one className.
type Class struct {
	app  *App
	name string
}

func (c *Class) Handle(method string, handler HandlerFunc, middleware ...MiddlewareFunc) *Class {
	c.app.Handle(c.name, method, handler, middleware...)
	return c
}

func (c *Class) Name() string {
	return c.name
}
