// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"encoding/json"
	"testing"
)

func TestResult_JSONKeepsZeroValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result Result
		keys   []string
	}{
		{"time update at start", Result{Type: ResultTimeUpdate, CurrentTime: 0, TotalTime: 30}, []string{"currentTime", "totalTime"}},
		{"instant decode", Result{Type: ResultDecodingLatency, Value: 0}, []string{"value"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(tt.result)
			if err != nil {
				t.Fatal(err)
			}
			var fields map[string]any
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatal(err)
			}
			for _, k := range tt.keys {
				if _, ok := fields[k]; !ok {
					t.Errorf("%s missing from %s", k, data)
				}
			}
			if _, ok := fields["reason"]; ok {
				t.Errorf("empty reason encoded in %s", data)
			}
		})
	}
}
