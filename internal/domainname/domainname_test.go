package domainname

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"collapses subdomains", []string{"www2.dhs.gov", "cisa.gov", "www.cisa.gov"}, []string{"cisa.gov", "dhs.gov"}},
		{"fed.us keeps three labels", []string{"foo.bar.fed.us"}, []string{"bar.fed.us"}},
		{"fed.us apex", []string{"bar.fed.us"}, []string{"bar.fed.us"}},
		{"lowercases", []string{"WWW.Example.GOV"}, []string{"example.gov"}},
		{"wildcard", []string{"*.cisa.gov"}, []string{"cisa.gov"}},
		{"single label", []string{"localhost"}, []string{"localhost"}},
		{"empty", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Trim(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTrim_Idempotent(t *testing.T) {
	first := Trim([]string{"a.b.example.com", "x.y.agency.fed.us", "cisa.gov"})
	second := Trim(first)
	if !slices.Equal(first, second) {
		t.Errorf("Trim(Trim(x)) = %v, want %v", second, first)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"cisa.gov", true},
		{"www.cisa.gov", true},
		{"CISA.GOV", true},
		{"cisa.gov.", true},
		{"x.gov", true},
		{"my-agency.example.gov", true},
		{"gov", false},
		{"", false},
		{"-bad.gov", false},
		{"bad-.gov", false},
		{"bad..gov", false},
		{"space here.gov", false},
		{"under_score.gov", false},
		{"cisa.gov/path", false},
		{strings.Repeat("a", 64) + ".gov", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.name)
			if tt.valid && err != nil {
				t.Errorf("Validate(%q) = %v, want nil", tt.name, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate(%q) = %v, want ErrInvalid", tt.name, err)
			}
		})
	}
}
