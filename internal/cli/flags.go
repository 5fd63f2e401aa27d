package cli

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each config key to its flag
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			// BindPFlag only fails on a nil flag
			_ = v.BindPFlag(key, f)
		}
	}
}

var modeFlags = map[string]string{
	"modes.sleep":           "sleep",
	"modes.nanosleep":       "nanosleep",
	"modes.clock_nanosleep": "clock-nanosleep",
	"modes.bench":           "bench",
}

// selectModes makes the mode flags exclusive of the configured modes: once
// any mode flag is given, only the given ones run
func selectModes(v *viper.Viper, flags *pflag.FlagSet) {
	explicit := false
	for _, name := range modeFlags {
		if f := flags.Lookup(name); f != nil && f.Changed {
			explicit = true
			break
		}
	}
	if !explicit {
		return
	}
	for key, name := range modeFlags {
		if f := flags.Lookup(name); f == nil || !f.Changed {
			v.Set(key, false)
		}
	}
}
