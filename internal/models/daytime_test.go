package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDayTimeSpec(t *testing.T) {
	cases := []struct {
		raw   string
		days  Weekdays
		start int
		end   int
	}{
		{"MWF 09:00-10:00", Monday | Wednesday | Friday, 540, 600},
		{"TTh 13:00-14:30", Tuesday | Thursday, 780, 870},
		{"Mon,Wed 9:00 - 10:30", Monday | Wednesday, 540, 630},
		{"Monday 09:30-10:30", Monday, 570, 630},
		{"M/W/F 08:00-08:50", Monday | Wednesday | Friday, 480, 530},
		{"SaSu 10:00-12:00", Saturday | Sunday, 600, 720},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			spec, err := ParseDayTimeSpec(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.days, spec.Days)
			assert.Equal(t, tc.start, spec.Start)
			assert.Equal(t, tc.end, spec.End)
		})
	}
}

func TestParseDayTimeSpecRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "09:00-10:00", "MWF", "MWF 10:00-09:00", "XYZ 09:00-10:00", "Mon 9am-10am", "Mon-Wed 09:00-10:00"} {
		_, err := ParseDayTimeSpec(raw)
		var parseErr *DayTimeParseError
		require.Error(t, err, raw)
		assert.True(t, errors.As(err, &parseErr), raw)
	}
}

func TestDayTimeSpecString(t *testing.T) {
	spec := DayTimeSpec{Days: Monday | Wednesday | Friday, Start: 540, End: 600}
	assert.Equal(t, "Mon/Wed/Fri 09:00-10:00", spec.String())
}
