package detections

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseClassNames(t *testing.T) {
	c := qt.New(t)

	testcases := []struct {
		name string
		in   string
		want map[int]string
	}{
		{
			name: "metadata flow mapping",
			in:   "{0: 'cardboard', 1: 'glass', 2: 'metal'}",
			want: map[int]string{0: "cardboard", 1: "glass", 2: "metal"},
		},
		{
			name: "block mapping",
			in:   "0: paper\n3: plastic\n",
			want: map[int]string{0: "paper", 3: "plastic"},
		},
		{
			name: "sequence",
			in:   "- cardboard\n- glass\n",
			want: map[int]string{0: "cardboard", 1: "glass"},
		},
	}

	for _, tc := range testcases {
		c.Run(tc.name, func(c *qt.C) {
			got, err := ParseClassNames([]byte(tc.in))
			c.Assert(err, qt.IsNil)
			c.Check(got.Labels(), qt.DeepEquals, tc.want)
		})
	}
}

func TestParseClassNames_Invalid(t *testing.T) {
	c := qt.New(t)

	testcases := []struct {
		name string
		in   string
		err  string
	}{
		{name: "empty", in: "", err: "parse class names: empty document"},
		{name: "scalar", in: "glass", err: "parse class names: expected a list or a mapping"},
		{name: "empty list", in: "[]", err: "class map is empty"},
		{name: "negative id", in: "{-1: glass}", err: "negative class id -1"},
		{name: "non numeric id", in: "{glass: 1}", err: "(?s)parse class names: .*"},
	}

	for _, tc := range testcases {
		c.Run(tc.name, func(c *qt.C) {
			_, err := ParseClassNames([]byte(tc.in))
			c.Assert(err, qt.ErrorMatches, tc.err)
		})
	}
}

func TestClassMap_Lookup(t *testing.T) {
	c := qt.New(t)

	src := map[int]string{0: "glass", 1: "metal"}
	classes, err := NewClassMap(src)
	c.Assert(err, qt.IsNil)

	src[2] = "paper"
	c.Check(classes.Len(), qt.Equals, 2)

	label, err := classes.Lookup(1)
	c.Assert(err, qt.IsNil)
	c.Check(label, qt.Equals, "metal")

	_, err = classes.Lookup(7)
	var ce *ConsistencyError
	c.Assert(errors.As(err, &ce), qt.IsTrue)
	c.Check(ce.ClassID, qt.Equals, 7)
	c.Check(err, qt.ErrorMatches, "class id 7 has no label")

	labels := classes.Labels()
	labels[0] = "changed"
	label, _ = classes.Lookup(0)
	c.Check(label, qt.Equals, "glass")

	c.Check(classes.String(), qt.Equals, "{0: glass, 1: metal}")
}

func TestLoadClassFile(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(c.TempDir(), "labels.yaml")
	c.Assert(os.WriteFile(path, []byte("- cardboard\n- glass\n- metal\n"), 0o600), qt.IsNil)

	classes, err := LoadClassFile(path)
	c.Assert(err, qt.IsNil)
	c.Check(classes.Len(), qt.Equals, 3)

	_, err = LoadClassFile(filepath.Join(c.TempDir(), "missing.yaml"))
	c.Assert(err, qt.ErrorMatches, "read labels file: .*")
}
