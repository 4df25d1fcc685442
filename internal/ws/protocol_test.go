package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Destination
		wantErr bool
	}{
		{name: "subscribe form", in: "timer/abc-123", want: Destination{TimerID: "abc-123"}},
		{name: "save action", in: "timer/abc/save", want: Destination{TimerID: "abc", Action: "save"}},
		{name: "change target action", in: "timer/abc/change-target", want: Destination{TimerID: "abc", Action: "change-target"}},
		{name: "complete action", in: "timer/abc/complete", want: Destination{TimerID: "abc", Action: "complete"}},
		{name: "unknown action", in: "timer/abc/explode", wantErr: true},
		{name: "wrong prefix", in: "queue/abc", wantErr: true},
		{name: "missing id", in: "timer/", wantErr: true},
		{name: "too deep", in: "timer/abc/save/now", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDestination(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
