package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const sampleTick = time.Second

// sampleBelowError samples entries up to Warn and passes Error and above
// through untouched.
func sampleBelowError(core zapcore.Core, initial, thereafter int) zapcore.Core {
	quiet := bandCore{Core: core, min: TraceLevel, max: zapcore.WarnLevel}
	loud := bandCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	return zapcore.NewTee(
		loud,
		zapcore.NewSamplerWithOptions(quiet, sampleTick, initial, thereafter),
	)
}

// bandCore restricts a core to levels in [min, max].
type bandCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c bandCore) With(fields []zapcore.Field) zapcore.Core {
	return bandCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
