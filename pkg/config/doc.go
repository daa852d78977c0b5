// Package config provides configuration loading, validation, and hot reload
// for the gateway.
//
// Configuration is defined in YAML with one section per subsystem. Loading
// applies defaults for unset fields, then validates the result and collects
// every violation into a single error. Environment variables of the form
// GROK2API_SECTION_FIELD override file values.
//
// A fsnotify-based Watcher reloads the file on change; a reload that fails
// validation leaves the running configuration untouched.
package config
