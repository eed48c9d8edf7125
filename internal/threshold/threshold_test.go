package threshold

import (
	"bytes"
	"testing"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCombine_EveryPairReconstructs(t *testing.T) {
	secret := cryptox.NewKey()

	shares, err := Split(secret, Parts, Threshold)
	require.NoError(t, err)
	require.Len(t, shares, Parts)

	for i := 0; i < len(shares); i++ {
		for j := 0; j < len(shares); j++ {
			if i == j {
				continue
			}
			got, err := Combine([]Share{shares[i], shares[j]}, Threshold)
			require.NoError(t, err, "pair %d,%d", i, j)
			assert.Equal(t, secret, got, "pair %d,%d", i, j)
		}
	}

	got, err := Combine(shares, Threshold)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCombine_BelowThreshold(t *testing.T) {
	shares, err := Split(cryptox.NewKey(), Parts, Threshold)
	require.NoError(t, err)

	for _, s := range shares {
		_, err := Combine([]Share{s}, Threshold)
		require.ErrorIs(t, err, common.ErrInsufficientShares)
	}

	_, err = Combine(nil, Threshold)
	require.ErrorIs(t, err, common.ErrInsufficientShares)
}

func TestCombine_DuplicatesCountOnce(t *testing.T) {
	shares, err := Split(cryptox.NewKey(), Parts, Threshold)
	require.NoError(t, err)

	_, err = Combine([]Share{shares[0], shares[0]}, Threshold)
	require.ErrorIs(t, err, common.ErrInsufficientShares)

	relabelled := Share{Index: 9, Data: shares[0].Data}
	_, err = Combine([]Share{shares[0], relabelled}, Threshold)
	require.ErrorIs(t, err, common.ErrInsufficientShares, "same x coordinate under another index is still one share")
}

func TestSplit_SharesDifferEachTime(t *testing.T) {
	secret := cryptox.NewKey()
	a, err := Split(secret, Parts, Threshold)
	require.NoError(t, err)
	b, err := Split(secret, Parts, Threshold)
	require.NoError(t, err)

	same := true
	for i := range a {
		if !bytes.Equal(a[i].Data[:len(secret)], b[i].Data[:len(secret)]) {
			same = false
		}
	}
	assert.False(t, same, "fresh polynomial coefficients per split")
}

func TestSplit_InvalidParameters(t *testing.T) {
	_, err := Split(nil, Parts, Threshold)
	require.Error(t, err)

	_, err = Split(cryptox.NewKey(), 1, 2)
	require.Error(t, err)

	_, err = Split(cryptox.NewKey(), 3, 1)
	require.Error(t, err)
}

func TestSealOpen_BindsContext(t *testing.T) {
	shares, err := Split(cryptox.NewKey(), Parts, Threshold)
	require.NoError(t, err)

	key := cryptox.NewKey()
	aad := BindingAAD("owner-1", "contact-1", shares[0].Index)

	sealed, err := Seal(shares[0], key, aad, cryptox.PurposeShare)
	require.NoError(t, err)

	got, err := Open(sealed, shares[0].Index, key, aad, cryptox.PurposeShare)
	require.NoError(t, err)
	assert.Equal(t, shares[0], got)

	_, err = Open(sealed, 1, key, BindingAAD("owner-1", "contact-2", 1), cryptox.PurposeShare)
	require.ErrorIs(t, err, common.ErrDecryption)

	_, err = Open(sealed, 1, cryptox.NewKey(), aad, cryptox.PurposeShare)
	require.ErrorIs(t, err, common.ErrDecryption)

	_, err = Open(sealed, 1, key, aad, cryptox.PurposeEscrow)
	require.ErrorIs(t, err, common.ErrDecryption)

	_, err = Open("garbage", 1, key, aad, cryptox.PurposeShare)
	require.ErrorIs(t, err, common.ErrDecryption)
}

func TestWipe(t *testing.T) {
	shares, err := Split(cryptox.NewKey(), Parts, Threshold)
	require.NoError(t, err)

	Wipe(shares)
	for _, s := range shares {
		for _, b := range s.Data {
			require.Zero(t, b)
		}
	}
}
