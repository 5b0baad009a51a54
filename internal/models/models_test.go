package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInviteState(t *testing.T) {
	var nilInvite *Invite
	require.Equal(t, InviteStateCreated, nilInvite.State())
	require.Equal(t, InviteStateCreated, (&Invite{}).State())
	require.Equal(t, InviteStateValidated, (&Invite{IsValidated: true}).State())
}
