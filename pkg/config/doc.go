// Package config loads the process settings from a YAML file.
//
// Settings are grouped the way the settings file is laid out: branding,
// app, ui, database, worker, devices, logging, tracing and metrics.
//
// Load applies, in order: an optional .env file next to the settings file,
// the built-in defaults, the YAML file with ${VAR} expansion and finally a
// small set of MTM_* environment overrides. A missing settings file is
// created with the defaults so operators have something to edit.
//
//	settings, err := config.Load("settings.yaml")
//	if err != nil {
//	    return err
//	}
//
// Loader.Watch reloads the file on change; serve uses it to apply a new
// log level without a restart.
package config
