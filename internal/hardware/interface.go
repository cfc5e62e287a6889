// Package hardware talks to the load cell amplifier and the gate servo.
package hardware

import "context"

// Scale returns raw HX711 counts.
type Scale interface {
	ReadRaw(ctx context.Context) (int64, error)
}

// Servo positions the feed gate.
type Servo interface {
	SetAngle(ctx context.Context, angle int) error
}

// Device is a scale and a servo behind one link.
type Device interface {
	Scale
	Servo
	Connect() error
	Close() error
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Sim)(nil)
)
