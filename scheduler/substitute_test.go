package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		values []SensitiveValue
		want   string
	}{
		{
			name: "longer key first",
			body: "Login as {user} with {user2}",
			values: []SensitiveValue{
				{Key: "user", Value: "alice"},
				{Key: "user2", Value: "bob"},
			},
			want: "Login as alice with bob",
		},
		{
			name:   "repeated placeholder",
			body:   "{site} then {site}",
			values: []SensitiveValue{{Key: "site", Value: "example.com"}},
			want:   "example.com then example.com",
		},
		{
			name:   "unknown placeholder kept",
			body:   "password {pw} for {other}",
			values: []SensitiveValue{{Key: "pw", Value: "s3cret"}},
			want:   "password s3cret for {other}",
		},
		{
			name:   "empty key ignored",
			body:   "nothing {} here",
			values: []SensitiveValue{{Key: "", Value: "x"}},
			want:   "nothing {} here",
		},
		{
			name: "no values",
			body: "plain {text}",
			want: "plain {text}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.body, tt.values))
		})
	}
}

func TestSubstitute_DoesNotReorderInput(t *testing.T) {
	values := []SensitiveValue{{Key: "a", Value: "1"}, {Key: "abc", Value: "3"}}
	Substitute("{a}{abc}", values)
	assert.Equal(t, "a", values[0].Key)
}

// 以某个 key 为前缀的更长 key 无论声明顺序如何都被完整替换
func TestSubstitute_PrefixKeysProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		short := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "short")
		suffix := rapid.StringMatching(`[a-z0-9]{1,4}`).Draw(rt, "suffix")
		long := short + suffix
		shortVal := rapid.StringMatching(`[A-Z]{1,5}`).Draw(rt, "shortVal")
		longVal := rapid.StringMatching(`[A-Z]{1,5}`).Draw(rt, "longVal")

		values := []SensitiveValue{{Key: short, Value: shortVal}, {Key: long, Value: longVal}}
		if rapid.Bool().Draw(rt, "swap") {
			values[0], values[1] = values[1], values[0]
		}

		got := Substitute("x {"+short+"} y {"+long+"} z", values)
		want := "x " + shortVal + " y " + longVal + " z"
		if got != want {
			rt.Fatalf("got %q, want %q", got, want)
		}
		if strings.Contains(got, "{") {
			rt.Fatalf("placeholder left in %q", got)
		}
	})
}
