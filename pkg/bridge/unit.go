package bridge

import "context"

type unitFunc struct {
	name string
	run  func(ctx context.Context) error
}

// NewUnit adapts a run function into a named Unit.
func NewUnit(name string, run func(ctx context.Context) error) Unit {
	return unitFunc{name: name, run: run}
}

func (u unitFunc) Name() string { return u.name }

func (u unitFunc) Run(ctx context.Context) error { return u.run(ctx) }
