package stock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name     string
		quantity float64
		minimum  float64
		want     Status
	}{
		{"zero is out of stock", 0, 10, StatusOutOfStock},
		{"negative is out of stock", -3, 10, StatusOutOfStock},
		{"at minimum is low", 10, 10, StatusLowStock},
		{"below minimum is low", 4, 10, StatusLowStock},
		{"above minimum is active", 11, 10, StatusActive},
		{"zero minimum stays active", 0.5, 0, StatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.quantity, tc.minimum))
		})
	}
}

func TestNextStatusPreservesDiscontinued(t *testing.T) {
	require.Equal(t, StatusDiscontinued, NextStatus(StatusDiscontinued, 50, 10))
	require.Equal(t, StatusActive, NextStatus(StatusOutOfStock, 50, 10))
}

func TestMovementInputValidate(t *testing.T) {
	valid := MovementInput{RecordID: 1, Direction: DirectionIn, Quantity: 5, Reason: "purchase"}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Quantity = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidMovement)

	bad = valid
	bad.Direction = "sideways"
	require.ErrorIs(t, bad.Validate(), ErrInvalidMovement)

	bad = valid
	bad.RecordID = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidMovement)

	bad = valid
	bad.Reason = ""
	require.ErrorIs(t, bad.Validate(), ErrInvalidMovement)
}

func TestMovementSigned(t *testing.T) {
	require.Equal(t, 7.5, Movement{Direction: DirectionIn, Quantity: 7.5}.Signed())
	require.Equal(t, -7.5, Movement{Direction: DirectionOut, Quantity: 7.5}.Signed())
}
