package report

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeReference(t *testing.T) {
	t.Parallel()

	ref, err := NormalizeReference(" 9872023 VH5797S 0001 WX ")
	require.NoError(t, err)
	require.Equal(t, "9872023VH5797S0001WX", ref)

	ref, err = NormalizeReference("13077a018000390000fp")
	require.NoError(t, err)
	require.Equal(t, "13077A018000390000FP", ref)
}

func TestNormalizeReferenceRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"9872023VH5797S",            // too short
		"9872023VH5797S0001WX00",    // too long
		"9872023VH5797S0001W-",      // punctuation
		"9872023 VH5797S 0001 Wñ",   // non-ASCII
	} {
		_, err := NormalizeReference(raw)
		require.ErrorIs(t, err, ErrInvalidReference, "input %q", raw)
	}
}

func TestReferenceCodes(t *testing.T) {
	t.Parallel()

	del, mun := ReferenceCodes("9872023VH5797S0001WX")
	require.Equal(t, "98", del)
	require.Equal(t, "720", mun)

	del, mun = ReferenceCodes("987")
	require.Empty(t, del)
	require.Empty(t, mun)
}
