package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Electronics", "electronics"},
		{"Home & Garden", "home-garden"},
		{"  Café   Society ", "cafe-society"},
		{"Ünïcödé 2024", "unicode-2024"},
		{"ﬁle", "file"},
		{"already-a-slug", "already-a-slug"},
		{"!!!", "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.name))
		})
	}
}
