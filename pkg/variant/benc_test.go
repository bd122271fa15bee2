package variant_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tordisk/pkg/variant"
)

func TestBencMatchesReferenceEncoder(t *testing.T) {
	v := variant.New()
	v.InitDict(4)
	v.DictAddInt(variant.NewQuark("b"), 1)
	v.DictAddStr(variant.NewQuark("a"), "x")
	list := v.DictAddList(variant.NewQuark("c"), 2)
	list.ListAddInt(-7)
	list.ListAddStr("y")
	inner := v.DictAddDict(variant.NewQuark("aa"), 1)
	inner.DictAddStr(variant.NewQuark("z"), "")

	var want bytes.Buffer
	err := bencode.Marshal(&want, map[string]interface{}{
		"b":  1,
		"a":  "x",
		"c":  []interface{}{-7, "y"},
		"aa": map[string]interface{}{"z": ""},
	})
	require.NoError(t, err)

	assert.Equal(t, want.String(), string(variant.ToBenc(v)))
}

func TestBencParseKeepsFileOrder(t *testing.T) {
	v, n, err := variant.ParseBenc([]byte("d1:bi1e1:ai2eetrailing"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	var keys []string
	v.DictEach(func(key variant.Quark, _ *variant.Variant) bool {
		keys = append(keys, key.String())
		return true
	})
	assert.Equal(t, []string{"b", "a"}, keys)

	assert.Equal(t, "d1:ai2e1:bi1ee", string(variant.ToBenc(v)))
}

func TestBencRoundTrip(t *testing.T) {
	in := []byte("d8:announce20:http://a.example/ann4:infod6:lengthi40000e4:name7:Foo Bar12:piece lengthi16384e6:pieces3:\x00\x01\xffee")

	v, n, err := variant.ParseBenc(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, variant.ToBenc(v))

	pieces, ok := v.DictFindDict(variant.NewQuark("info")).DictFindRaw(variant.NewQuark("pieces"))
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 0xff}, pieces)
}

func TestBencBoolAndReal(t *testing.T) {
	v := variant.New()
	v.InitList(3)
	v.ListAddBool(true)
	v.ListAddBool(false)
	v.ListAddReal(1.5)

	assert.Equal(t, "li1ei0e8:1.500000e", string(variant.ToBenc(v)))
}

func TestBencErrors(t *testing.T) {
	tests := []string{
		"i01e",
		"i-0e",
		"ie",
		"i12",
		"5:abc",
		"3x",
		"d1:ai1e",
		"di1ei2ee",
		"l",
		"x",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, _, err := variant.ParseBenc([]byte(in))
			assert.ErrorIs(t, err, variant.ErrInvalidBencode)
		})
	}

	_, _, err := variant.ParseBenc(nil)
	assert.ErrorIs(t, err, variant.ErrNoContent)
}

func TestBencDepthLimit(t *testing.T) {
	ok := bytes.Repeat([]byte("l"), variant.MaxDepth)
	ok = append(ok, bytes.Repeat([]byte("e"), variant.MaxDepth)...)
	_, _, err := variant.ParseBenc(ok)
	assert.NoError(t, err)

	deep := bytes.Repeat([]byte("l"), variant.MaxDepth+1)
	deep = append(deep, bytes.Repeat([]byte("e"), variant.MaxDepth+1)...)
	_, _, err = variant.ParseBenc(deep)
	assert.ErrorIs(t, err, variant.ErrTooDeep)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, _, err := variant.ParseJSON([]byte(`{"destination":"/data","have":"ff","corrupt":0}`), "")
	require.NoError(t, err)

	for _, f := range []variant.Format{variant.FormatBenc, variant.FormatJSON, variant.FormatJSONLean} {
		t.Run(f.String(), func(t *testing.T) {
			path := filepath.Join(dir, "state", f.String())
			require.NoError(t, variant.ToFile(v, f, path))

			got, err := variant.FromFile(path, f)
			require.NoError(t, err)
			assert.True(t, variant.Equal(v, got))
		})
	}

	_, err = variant.FromFile(filepath.Join(dir, "missing"), variant.FormatJSON)
	assert.Error(t, err)
}
