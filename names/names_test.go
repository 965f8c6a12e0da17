package names

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepgo/shepgo/canonical"
)

func TestShortNames(t *testing.T) {
	forms := []canonical.Form{
		{{Key: "batch_size", Value: float64(128)}, {Key: "lr", Value: 0.1}},
		{{Key: "batch_size", Value: float64(128)}, {Key: "lr", Value: 0.01}},
	}

	names, base := ShortNames(forms)
	require.Equal(t, []string{"lr=0.1", "lr=0.01"}, names)
	require.Equal(t, "batch_size=128", base)
}

func TestShortNamesNoCommonKeys(t *testing.T) {
	forms := []canonical.Form{
		{{Key: "lr", Value: 0.1}},
		{{Key: "epochs", Value: float64(40)}},
	}

	names, base := ShortNames(forms)
	require.Equal(t, []string{"lr=0.1", "epochs=40"}, names)
	require.Equal(t, "", base)
}

func TestShortNamesSingleForm(t *testing.T) {
	forms := []canonical.Form{
		{{Key: "lr", Value: 0.1}, {Key: "model", Value: "resnet"}},
	}

	// A single experiment has nothing to discriminate against: everything
	// is common and goes to the base name.
	names, base := ShortNames(forms)
	require.Equal(t, []string{""}, names)
	require.Equal(t, "lr=0.1 model=resnet", base)
}

func TestPart(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{
			name:  "plain key",
			key:   "lr",
			value: 0.01,
			want:  "lr=0.01",
		},
		{
			name:  "dotted key abbreviates non leaf segments",
			key:   "optimizer.learning_rate",
			value: 0.3,
			want:  "opt.learning_rate=0.3",
		},
		{
			name:  "deeply nested",
			key:   "model.encoder.hidden_size",
			value: float64(512),
			want:  "mod.enc.hidden_size=512",
		},
		{
			name:  "short segments kept",
			key:   "ema.decay",
			value: 0.999,
			want:  "ema.decay=0.999",
		},
		{
			name:  "true renders bare key",
			key:   "use_fp16",
			value: true,
			want:  "use_fp16",
		},
		{
			name:  "false is explicit",
			key:   "shuffle",
			value: false,
			want:  "shuffle=false",
		},
		{
			name:  "list value",
			key:   "layers",
			value: []any{1.0, 2.0},
			want:  "layers=[1,2]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Part(tt.key, tt.value))
		})
	}
}
