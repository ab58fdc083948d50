package model

import "testing"

func TestUpstreamTarget_Endpoint(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"host and port", "http://vllm.local:8000", "http://vllm.local:8000/v1/completions", false},
		{"trailing slash", "http://vllm.local:8000/", "http://vllm.local:8000/v1/completions", false},
		{"base path discarded", "https://gw.example.com/prefix/api", "https://gw.example.com/v1/completions", false},
		{"query discarded", "http://vllm.local:8000?debug=1", "http://vllm.local:8000/v1/completions", false},
		{"unparseable", "http://[::1", "", true},
		{"missing scheme", "vllm.local", "", true},
		{"unsupported scheme", "ftp://vllm.local", "", true},
		{"missing host", "http:///v1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UpstreamTarget{BaseURL: tt.base}.Endpoint("/v1/completions")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Endpoint() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Endpoint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Endpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
