package backend

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlattenParsing(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []Entry
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "typed values",
			in:   []string{"--lr=0.01", "--batch_size=128", "--name=base"},
			want: []Entry{
				{Key: "lr", Value: 0.01},
				{Key: "batch_size", Value: int64(128)},
				{Key: "name", Value: "base"},
			},
		},
		{
			name: "bare flag is true",
			in:   []string{"--use_fp16"},
			want: []Entry{{Key: "use_fp16", Value: true}},
		},
		{
			name: "explicit booleans",
			in:   []string{"--a=true", "--b=false"},
			want: []Entry{{Key: "a", Value: true}, {Key: "b", Value: false}},
		},
		{
			name: "last write wins in place",
			in:   []string{"--lr=0.1", "--epochs=10", "--lr=0.2"},
			want: []Entry{
				{Key: "lr", Value: 0.2},
				{Key: "epochs", Value: int64(10)},
			},
		},
		{
			name: "dotted keys",
			in:   []string{"--optim.lr=0.3"},
			want: []Entry{{Key: "optim.lr", Value: 0.3}},
		},
		{
			name: "list value",
			in:   []string{"--layers=[1,2,3]"},
			want: []Entry{{Key: "layers", Value: []any{1.0, 2.0, 3.0}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFlags(nil).Flatten(tt.in)
			require.NoError(t, err)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlattenMalformed(t *testing.T) {
	for _, tok := range []string{"lr=0.1", "-lr=0.1", "--", "--=3"} {
		_, err := NewFlags(nil).Flatten([]string{tok})
		require.Error(t, err, "token %q", tok)
	}
}

func TestFlattenDropsDefaults(t *testing.T) {
	f := NewFlags(map[string]any{"lr": 0.1, "epochs": 10})

	got, err := f.Flatten([]string{"--lr=0.1", "--epochs=20"})
	require.NoError(t, err)
	require.Equal(t, []Entry{{Key: "epochs", Value: int64(20)}}, got)
}

func TestResolveOverlaysDefaults(t *testing.T) {
	f := NewFlags(map[string]any{"lr": 0.1, "epochs": 10})

	got, err := f.Resolve([]string{"--lr=0.5"})
	require.NoError(t, err)
	require.Equal(t, 0.5, got["lr"])
	require.Equal(t, 10, got["epochs"])
}
