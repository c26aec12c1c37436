package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"astronoma/internal/generation"
	"astronoma/internal/logging"
)

// Fetcher retrieves image bytes referenced by URL.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// decodeResult turns a successful batch result into a Set. A failed secondary
// slot is dropped; a failed primary slot fails the whole set.
func decodeResult(ctx context.Context, key Key, res generation.Result, fetcher Fetcher) (Set, error) {
	if !res.OK() {
		return nil, fmt.Errorf("%s: %s", res.Err, res.Message)
	}

	var (
		mu  sync.Mutex
		set = Set{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, ref := range res.Refs {
		slot, ok := parseSlot(name)
		if !ok {
			continue
		}
		ref := ref
		g.Go(func() error {
			img, err := decodeRef(gctx, ref, fetcher)
			if err != nil {
				if slot == SlotPrimary {
					return fmt.Errorf("primary slot: %w", err)
				}
				logging.AssetsWarn("dropping %s slot of %s: %v", slot, key, err)
				return nil
			}
			mu.Lock()
			set[slot] = NewTexture("generated:"+sourceName(ref), img)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		set.Release()
		return nil, err
	}
	if !set.Complete() {
		return nil, fmt.Errorf("no primary image")
	}
	return set, nil
}

func decodeRef(ctx context.Context, ref string, fetcher Fetcher) (image.Image, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "data:") {
		data, err = decodeDataURL(ref)
	} else {
		if fetcher == nil {
			return nil, fmt.Errorf("no fetcher for %s", ref)
		}
		data, err = fetcher.Fetch(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// decodeDataURL handles "data:<mime>[;base64],<payload>".
func decodeDataURL(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data URL payload: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URL payload: %w", err)
	}
	return []byte(s), nil
}

// sourceName keeps log output short for inline images.
func sourceName(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		meta, _, _ := strings.Cut(ref, ",")
		return meta
	}
	return ref
}
