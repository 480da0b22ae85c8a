package vlm

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/image/draw"
)

// ResponseCache deduplicates describe calls for near-identical frames.
// The key is a perceptual average hash of the frame plus the tier, so a
// static scene re-analyzed within the TTL reuses the previous reply
// instead of paying for another model call.
type ResponseCache struct {
	cache *expirable.LRU[string, string]
}

func NewResponseCache(size int, ttl time.Duration) *ResponseCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *ResponseCache) Get(frameJPEG []byte, tier string) (string, bool) {
	key, err := cacheKey(frameJPEG, tier)
	if err != nil {
		return "", false
	}
	return c.cache.Get(key)
}

func (c *ResponseCache) Put(frameJPEG []byte, tier, response string) {
	key, err := cacheKey(frameJPEG, tier)
	if err != nil {
		return
	}
	c.cache.Add(key, response)
}

func cacheKey(frameJPEG []byte, tier string) (string, error) {
	h, err := averageHash(frameJPEG)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%016x", tier, h), nil
}

// averageHash computes an 8x8 luma average hash. Frames that differ only by
// noise or compression collide, which is exactly what we want.
func averageHash(jpeg []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(jpeg))
	if err != nil {
		return 0, err
	}

	small := image.NewGray(image.Rect(0, 0, 8, 8))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range small.Pix {
		sum += int(p)
	}
	mean := uint8(sum / 64)

	var hash uint64
	for i, p := range small.Pix {
		if p >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}
