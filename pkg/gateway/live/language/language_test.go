package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var nandiLanguages = NewSet("Marathi", "Hindi", "Tamil", "English")

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		pref Preferences
		want string
	}{
		{"primary supported", Preferences{Primary: "Marathi", Secondary: "Hindi"}, "Marathi"},
		{"falls back to secondary", Preferences{Primary: "Kannada", Secondary: "English"}, "English"},
		{"neither supported", Preferences{Primary: "Telugu", Secondary: "Malayalam"}, "English"},
		{"empty profile", Preferences{}, "English"},
		{"secondary only", Preferences{Secondary: "Tamil"}, "Tamil"},
		{"surrounding whitespace", Preferences{Primary: " Hindi "}, "Hindi"},
		{"case sensitive", Preferences{Primary: "hindi", Secondary: "marathi"}, "English"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.pref, nandiLanguages, "English"))
		})
	}
}

func TestResolve_AlwaysMemberOfSetOrDefault(t *testing.T) {
	candidates := []string{"", "Marathi", "Hindi", "Tamil", "English", "Kannada", "Bhojpuri", "Telugu"}
	for _, primary := range candidates {
		for _, secondary := range candidates {
			got := Resolve(Preferences{Primary: primary, Secondary: secondary}, nandiLanguages, "English")
			assert.True(t, nandiLanguages.Contains(got), "resolve(%q,%q)=%q", primary, secondary, got)
			if !nandiLanguages.Contains(primary) && !nandiLanguages.Contains(secondary) {
				assert.Equal(t, "English", got)
			}
		}
	}
}

func TestNewSet_DedupesAndKeepsOrder(t *testing.T) {
	s := NewSet("Hindi", " ", "Tamil", "Hindi", "English")
	assert.Equal(t, []string{"Hindi", "Tamil", "English"}, s.Names())
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("Marathi"))
}
