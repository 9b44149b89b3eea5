package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Forms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Base;C;0;", Encode(KindClass, 0, "Base", nil))
	assert.Equal(t, "run;F;0;self;", Encode(KindFunction, 0, "run", []string{"self"}))
	assert.Equal(t, "f;F;0;;", Encode(KindFunction, 0, "f", nil))
	assert.Equal(t, "__init__;c;8;self,x;", Encode(KindConstructor, Constructor, "__init__", []string{"self", "x"}))
	assert.Equal(t, "_x;A;1;", Encode(KindAttribute, Private, "_x", nil))
	assert.Equal(t, "make;c;c;cls,*args;", Encode(KindConstructor, Constructor|Static, "make", []string{"cls", "*args"}))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	kinds := []Kind{KindClass, KindFunction, KindConstructor, KindAttribute, KindData, KindImport, KindGenerator}
	paramSets := [][]string{nil, {"self"}, {"self", "a", "*args", "**kw"}}
	flagSets := []Flags{0, Private, Deprecated | Static, Constructor | Static, Documented | DocOnly | Deprecated, Private | Deprecated | Static | Constructor | Documented | DocOnly}

	for _, k := range kinds {
		for _, f := range flagSets {
			for _, p := range paramSets {
				enc := Encode(k, f, "name_1", p)
				got, err := Decode(enc)
				require.NoError(t, err, enc)
				assert.Equal(t, k, got.Kind, enc)
				assert.Equal(t, f, got.Flags, enc)
				assert.Equal(t, "name_1", got.Name, enc)
				assert.Equal(t, p, got.Params, enc)
				assert.Equal(t, enc, got.String())
			}
		}
	}
}

func TestFlags_RoundTripAllCombinations(t *testing.T) {
	t.Parallel()

	all := Private | Deprecated | Static | Constructor | Documented | DocOnly
	for f := Flags(0); f <= all; f++ {
		got, err := DecodeFlags(EncodeFlags(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "foo", "foo;C", "foo;C;0", "foo;;0;", "foo;CC;0;", "foo;X;0;", "foo;C;zz;"} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestDecode_EmptyFlagsSection(t *testing.T) {
	t.Parallel()

	got, err := Decode("x;D;;")
	require.NoError(t, err)
	assert.Equal(t, Flags(0), got.Flags)
	assert.Nil(t, got.Params)
}

func TestHasName_ExactBoundary(t *testing.T) {
	t.Parallel()

	foo := Encode(KindFunction, 0, "foo", []string{"self"})
	foobar := Encode(KindFunction, 0, "foobar", []string{"self"})

	assert.True(t, HasName(foo, "foo"))
	assert.False(t, HasName(foobar, "foo"))
	assert.True(t, HasName(foobar, "foobar"))
	assert.False(t, HasName("foo", "foo"))
}

func TestNameAndKindOf(t *testing.T) {
	t.Parallel()

	sig := Encode(KindConstructor, Constructor, "__init__", []string{"self"})
	assert.Equal(t, "__init__", Name(sig))
	assert.Equal(t, KindConstructor, KindOf(sig))
	assert.Equal(t, Kind(0), KindOf("broken"))
	assert.Equal(t, "broken", Name("broken"))
}

func TestFlagsString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "private|static", (Private | Static).String())
	assert.True(t, (Constructor | Static).Has(Static))
	assert.False(t, Static.Has(Constructor|Static))
}

func TestModuleAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", EncodeModuleAttrs(ModuleAttrs{}))
	assert.Equal(t, "S", EncodeModuleAttrs(ModuleAttrs{System: true}))
	assert.Equal(t, "D", EncodeModuleAttrs(ModuleAttrs{Deprecated: true}))
	assert.Equal(t, "SD", EncodeModuleAttrs(ModuleAttrs{System: true, Deprecated: true}))

	assert.Equal(t, ModuleAttrs{System: true, Deprecated: true}, DecodeModuleAttrs("SD"))
	assert.Equal(t, ModuleAttrs{Deprecated: true}, DecodeModuleAttrs("D"))
	assert.Equal(t, ModuleAttrs{}, DecodeModuleAttrs(""))
}

func TestValidName(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidName("x"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("a;b"))
}
