// SPDX-License-Identifier: AGPL-3.0-only

package subtoken

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitment(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	tok := New()
	c := tok.Commitment()
	require.True(c.Verify(tok))

	forged := New()
	require.False(c.Verify(forged))
}

func TestFromBytes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	tok := New()
	tok2, err := TokenFromBytes(tok.Bytes())
	require.NoError(err)
	require.Equal(tok, tok2)

	c := tok.Commitment()
	c2, err := CommitmentFromBytes(c.Bytes())
	require.NoError(err)
	require.True(c2.Verify(tok))

	_, err = TokenFromBytes(tok.Bytes()[:TokenLength-1])
	require.Error(err)
	_, err = CommitmentFromBytes(nil)
	require.Error(err)
}
