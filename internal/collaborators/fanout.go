package collaborators

import "github.com/microstructure-engine/internal/signalkind"

// FanoutSink broadcasts every signal to each wrapped sink, letting
// main.go register the notify.Sink and the api.Server as independent
// collaborators.SignalSink implementations.
type FanoutSink struct {
	sinks []SignalSink
}

func NewFanoutSink(sinks ...SignalSink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (f *FanoutSink) OnSignal(signal signalkind.Signal) {
	for _, s := range f.sinks {
		s.OnSignal(signal)
	}
}

func (f *FanoutSink) OnMicrostructureSignal(signal signalkind.Signal) {
	for _, s := range f.sinks {
		s.OnMicrostructureSignal(signal)
	}
}
