// Package config loads mkdockyard configuration from YAML, JSON or CUE.
//
// Every source is unified with an embedded CUE schema (#Config in
// schema.cue), which supplies defaults and rejects unknown fields. Values
// CUE cannot check, such as durations and byte sizes, are parsed
// afterwards. All problems are reported together in one
// INVALID_CONFIGURATION error whose "issues" context lists each field.
//
// A minimal YAML file:
//
//	budget: 500MB
//	repos:
//	  - url: https://github.com/acme/data-tools.git
//	    ref: v1.4.0
//	  - name: theme
//	    url: git@github.com:acme/docs-theme.git
//	    ref: main
//
// A repository without a name is named after its URL ("data_tools" above).
package config
