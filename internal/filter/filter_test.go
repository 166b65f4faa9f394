package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryPattern(t *testing.T) {
	s := MustCompile("build/")

	assert.True(t, s.Match("build/x"))
	assert.True(t, s.Match("build/nested/deep.o"))
	assert.False(t, s.Match("builder.txt"))
	assert.False(t, s.Match("src/build/x"), "anchored at the start")
}

func TestPrefixPattern(t *testing.T) {
	s := MustCompile(`.*\.log`, "README")

	assert.True(t, s.Match("debug.log"))
	assert.True(t, s.Match("logs/app.log"))
	assert.True(t, s.Match("debug.log.gz"), "a prefix match is enough")
	assert.True(t, s.Match("README"))
	assert.True(t, s.Match("README.md"))
	assert.False(t, s.Match("docs/README"))
}

func TestBareNameCoversDirectory(t *testing.T) {
	s := MustCompile(`\.git`, "node_modules")

	tests := []struct {
		path string
		want bool
	}{
		{".git", true},
		{".git/HEAD", true},
		{".gitignore", true},
		{"node_modules/x/y.js", true},
		{"src/.git/HEAD", false},
		{"index.html", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Match(tt.path), tt.path)
	}
}

func TestDollarRestoresWholePathMatch(t *testing.T) {
	s := MustCompile(`README$`)
	assert.True(t, s.Match("README"))
	assert.False(t, s.Match("README.md"))
}

func TestAlternationStaysAnchored(t *testing.T) {
	s := MustCompile("a|b")
	assert.True(t, s.Match("a"))
	assert.True(t, s.Match("b"))
	assert.False(t, s.Match("xb"))
}

func TestCompileRejectsInvalid(t *testing.T) {
	_, err := Compile([]string{"ok", "("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"("`)
}

func TestRules(t *testing.T) {
	r, err := NewRules([]string{"build/", ""}, []string{"uploads/", "config.php"}, ".objects", "deployer.log", "deploy.yaml")
	require.NoError(t, err)

	assert.True(t, r.IsIgnored(".objects"))
	assert.True(t, r.IsIgnored("deployer.log"))
	assert.True(t, r.IsIgnored("deploy.yaml"))
	assert.True(t, r.IsIgnored("build/app"))
	assert.False(t, r.IsIgnored("index.html"))

	assert.True(t, r.IsKept("uploads/photo.jpg"))
	assert.True(t, r.IsKept("config.php"))
	assert.False(t, r.IsKept("index.php"))
}

func TestNilRules(t *testing.T) {
	var r *Rules
	assert.False(t, r.IsIgnored("x"))
	assert.False(t, r.IsKept("x"))
}

func TestInvalidKeepPattern(t *testing.T) {
	_, err := NewRules(nil, []string{"[z-a]"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep")
}

func TestIgnoring(t *testing.T) {
	var r *Rules
	r = r.Ignoring(".objects")
	assert.True(t, r.IsIgnored(".objects"))
	assert.False(t, r.IsKept(".objects"))

	base, err := NewRules([]string{"tmp/"}, []string{"keep.txt"})
	require.NoError(t, err)
	extended := base.Ignoring("deployer.log")
	assert.True(t, extended.IsIgnored("deployer.log"))
	assert.True(t, extended.IsIgnored("tmp/x"))
	assert.True(t, extended.IsKept("keep.txt"))
	assert.False(t, base.IsIgnored("deployer.log"), "original unchanged")
}
