package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodStart_TruncatesToUTCMonth(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)

	cases := map[string]struct {
		in   time.Time
		want time.Time
	}{
		"mid month": {
			in:   time.Date(2024, 5, 17, 13, 45, 12, 0, time.UTC),
			want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		"first instant is idempotent": {
			in:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		"local time lands in the utc month": {
			// 2024-06-01 07:00 UTC+9 is still 2024-05-31 in UTC.
			in:   time.Date(2024, 6, 1, 7, 0, 0, 0, loc),
			want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, PeriodStart(tc.in))
		})
	}
}

func TestStoreUnavailableError_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreUnavailableError{Op: "usage count", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "usage count")
}
