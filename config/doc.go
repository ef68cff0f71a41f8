// SPDX-License-Identifier: EPL-2.0

// Package config loads the player host configuration from an optional YAML
// file, AUDFEED_ environment variables and command line flags, in
// increasing order of precedence.
//
//	audio:
//	  sample_rate: 48000
//	  crossfade: 3
//	  effects:
//	    - type: volume
//	      value: -0.5
//	output:
//	  tick_interval: 20ms
//	log:
//	  level: debug
package config
