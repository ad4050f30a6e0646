package bitfield_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/bitfield"
)

type pteFlags struct {
	Present  bool   `bitfield:",1"`
	Writable bool   `bitfield:",1"`
	User     bool   `bitfield:",1"`
	Global   bool   `bitfield:",1"`
	COW      bool   `bitfield:",1"`
	ASID     uint32 `bitfield:",8"`
}

func TestPackUnpackRoundTrip(t *testing.T) {
	in := pteFlags{Present: true, Writable: true, User: false, Global: true, COW: true, ASID: 200}

	packed, err := bitfield.Pack(&in, &bitfield.Config{NumBits: 32})
	require.NoError(t, err)

	var out pteFlags
	require.NoError(t, bitfield.Unpack(packed, &out))
	require.Equal(t, in, out)
}

func TestPackRejectsOverflow(t *testing.T) {
	in := pteFlags{ASID: 500} // exceeds 8 bits (max 255)
	_, err := bitfield.Pack(&in, &bitfield.Config{NumBits: 32})
	require.Error(t, err)
}
