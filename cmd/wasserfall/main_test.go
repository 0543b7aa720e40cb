package main

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{
			name:  "pairs",
			pairs: []string{"svc=nginx", "table=audit_log"},
			want:  map[string]string{"svc": "nginx", "table": "audit_log"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"where=a=b"},
			want:  map[string]string{"where": "a=b"},
		},
		{name: "missing separator", pairs: []string{"svc"}, wantErr: true},
		{name: "empty key", pairs: []string{"=nginx"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVars(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseVars() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVars() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseVars() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "execution error", err: &ExecutionError{Message: "2 hosts failed"}, want: 1},
		{name: "setup error", err: &SetupError{Message: "bad config"}, want: 2},
		{name: "unknown error", err: errors.New("unexpected"), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
