package assets

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astronoma/internal/generation"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	if b, ok := m[ref]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

func TestDecodeResult(t *testing.T) {
	white := pngDataURL(t, color.White)
	raw, err := decodeDataURL(white)
	require.NoError(t, err)

	fetcher := mapFetcher{"/textures/earth_n.png": raw}
	res := generation.Result{Refs: map[string]string{
		"primary":  white,
		"normal":   "/textures/earth_n.png",
		"specular": "/textures/missing.png",
	}}

	set, err := decodeResult(context.Background(), "earth", res, fetcher)
	require.NoError(t, err)
	assert.True(t, set.Complete())
	assert.NotNil(t, set[SlotNormal], "fetched slot decoded")
	assert.Nil(t, set[SlotSpecular], "failed secondary slot dropped")
	assert.Equal(t, "generated:/textures/earth_n.png", set[SlotNormal].Source)
	assert.Equal(t, "generated:data:image/png;base64", set.Primary().Source)
}

func TestDecodeResultPrimaryFailure(t *testing.T) {
	tests := []struct {
		name string
		res  generation.Result
	}{
		{"error result", generation.Failed(generation.KindTimeout, "slow")},
		{"unfetchable primary", generation.Result{Refs: map[string]string{"primary": "/nope.png"}}},
		{"not an image", generation.Result{Refs: map[string]string{"primary": "data:text/plain,hello"}}},
		{"no primary", generation.Result{Refs: map[string]string{"normal": pngDataURL(t, color.Black)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeResult(context.Background(), "k", tt.res, mapFetcher{})
			assert.Error(t, err)
		})
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, err := decodeDataURL("data:text/plain,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = decodeDataURL("data:image/png;base64")
	assert.Error(t, err)
}
