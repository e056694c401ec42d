package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

func TestHaveSufficientMemory(t *testing.T) {
	tests := []struct {
		name    string
		total   inference.RequiredMemory
		req     inference.RequiredMemory
		fits    bool
		wantErr bool
	}{
		{
			name:  "fits on both axes",
			total: inference.RequiredMemory{RAM: 16 << 30, VRAM: 8 << 30},
			req:   inference.RequiredMemory{RAM: 8 << 30, VRAM: 4 << 30},
			fits:  true,
		},
		{
			name:  "ram overflow",
			total: inference.RequiredMemory{RAM: 8 << 30, VRAM: 8 << 30},
			req:   inference.RequiredMemory{RAM: 16 << 30, VRAM: 1},
			fits:  false,
		},
		{
			name:  "vram overflow",
			total: inference.RequiredMemory{RAM: 16 << 30, VRAM: 4 << 30},
			req:   inference.RequiredMemory{RAM: 1, VRAM: 8 << 30},
			fits:  false,
		},
		{
			name:  "known overflow wins over unknown axis",
			total: inference.RequiredMemory{RAM: 8 << 30, VRAM: 1},
			req:   inference.RequiredMemory{RAM: 16 << 30, VRAM: 4 << 30},
			fits:  false,
		},
		{
			name:    "unknown vram capacity",
			total:   inference.RequiredMemory{RAM: 16 << 30, VRAM: 1},
			req:     inference.RequiredMemory{RAM: 8 << 30, VRAM: 4 << 30},
			wantErr: true,
		},
		{
			name:    "unknown ram capacity",
			total:   inference.RequiredMemory{RAM: 1, VRAM: 8 << 30},
			req:     inference.RequiredMemory{RAM: 8 << 30, VRAM: 1},
			wantErr: true,
		},
		{
			name:  "unknown requirement always fits",
			total: inference.RequiredMemory{RAM: 1, VRAM: 1},
			req:   inference.RequiredMemory{RAM: 1, VRAM: 1},
			fits:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &systemMemoryInfo{log: logging.Discard(), totalMemory: tt.total}
			fits, err := s.HaveSufficientMemory(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.fits, fits)
		})
	}
}
