package model

import "testing"

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"preference", CategoryPreference, false},
		{"  Workflow ", CategoryWorkflow, false},
		{"", CategoryOther, false},
		{"build-tools", "build-tools", false},
		{"team_rules", "team_rules", false},
		{"with space", "", true},
		{"-leading", "", true},
		{"emoji🙂", "", true},
		{"abcdefghijklmnopqrstuvwxyz0123456789", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
