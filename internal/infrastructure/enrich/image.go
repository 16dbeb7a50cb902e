package enrich

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"FeedPublisher/internal/domain"
)

// fetchImage downloads, resizes, and re-encodes an image so it fits the
// platform's blob limits: longer edge capped at MaxDimension, JPEG at
// JPEGQuality, rejected outright when the encoded size still exceeds
// MaxImageBytes.
func (r *Resolver) fetchImage(ctx context.Context, imageURL string) (*domain.EmbedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.MaxImageBytes)*8))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	src = r.downsize(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: r.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	if buf.Len() > r.cfg.MaxImageBytes {
		return nil, fmt.Errorf("image still %d bytes after compression (budget %d)",
			buf.Len(), r.cfg.MaxImageBytes)
	}

	bounds := src.Bounds()
	return &domain.EmbedImage{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func (r *Resolver) downsize(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	longest := w
	if h > longest {
		longest = h
	}
	if r.cfg.MaxDimension <= 0 || longest <= r.cfg.MaxDimension {
		return src
	}

	scale := float64(r.cfg.MaxDimension) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}
