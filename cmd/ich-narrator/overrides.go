package main

import (
	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/config"
)

// overrides registers flags whose values replace configuration fields only
// when they are given on the command line.
type overrides struct {
	cmd      *cobra.Command
	defaults *config.Config
	setters  []func(cfg *config.Config)
}

func newOverrides(cmd *cobra.Command) *overrides {
	return &overrides{cmd: cmd, defaults: config.Default()}
}

func (o *overrides) String(name, usage string, field func(*config.Config) *string) {
	value := o.cmd.Flags().String(name, *field(o.defaults), usage)
	o.on(name, func(cfg *config.Config) { *field(cfg) = *value })
}

func (o *overrides) Int(name, usage string, field func(*config.Config) *int) {
	value := o.cmd.Flags().Int(name, *field(o.defaults), usage)
	o.on(name, func(cfg *config.Config) { *field(cfg) = *value })
}

func (o *overrides) Float64(name, usage string, field func(*config.Config) *float64) {
	value := o.cmd.Flags().Float64(name, *field(o.defaults), usage)
	o.on(name, func(cfg *config.Config) { *field(cfg) = *value })
}

func (o *overrides) Bool(name, usage string, field func(*config.Config) *bool) {
	value := o.cmd.Flags().Bool(name, *field(o.defaults), usage)
	o.on(name, func(cfg *config.Config) { *field(cfg) = *value })
}

// Negated registers a switch that sets field to false.
func (o *overrides) Negated(name, usage string, field func(*config.Config) *bool) {
	value := o.cmd.Flags().Bool(name, false, usage)
	o.on(name, func(cfg *config.Config) {
		if *value {
			*field(cfg) = false
		}
	})
}

func (o *overrides) on(name string, set func(cfg *config.Config)) {
	o.setters = append(o.setters, func(cfg *config.Config) {
		if o.cmd.Flags().Changed(name) {
			set(cfg)
		}
	})
}

func (o *overrides) apply(cfg *config.Config) {
	for _, set := range o.setters {
		set(cfg)
	}
}
